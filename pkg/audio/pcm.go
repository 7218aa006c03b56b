// Package audio holds the PCM plumbing shared by the transport edge and the
// ASR session pool: validation for the 16-bit little-endian mono stream the
// operator console produces, and a diagnostic WAV dump sink for sessions
// recorded with saveAudioToStorage enabled.
//
// The gateway performs no acoustic processing — chunks pass through to the
// upstream ASR untouched. Validation only rejects chunks that could never be
// valid int16 PCM.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Stream format of the operator console. The console always captures 16 kHz
// mono; the constants double as the defaults for auto-started ASR sessions.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	BytesPerSample    = 2
)

// MaxChunkBytes caps a single audioData chunk. The console sends chunks of a
// few KiB at a time; anything near this limit is a misbehaving client, not
// audio.
const MaxChunkBytes = 1 << 20

var (
	// ErrEmptyChunk reports a zero-length chunk.
	ErrEmptyChunk = errors.New("audio: empty chunk")

	// ErrOddByteCount reports a chunk that cannot be int16 PCM.
	ErrOddByteCount = errors.New("audio: odd byte count in PCM chunk")

	// ErrChunkTooLarge reports a chunk above [MaxChunkBytes].
	ErrChunkTooLarge = errors.New("audio: chunk exceeds size limit")
)

// ValidateChunk checks that chunk is plausible int16 PCM before it is fed to
// an ASR session.
func ValidateChunk(chunk []byte) error {
	switch {
	case len(chunk) == 0:
		return ErrEmptyChunk
	case len(chunk) > MaxChunkBytes:
		return fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, len(chunk))
	case len(chunk)%BytesPerSample != 0:
		return fmt.Errorf("%w: %d bytes", ErrOddByteCount, len(chunk))
	}
	return nil
}

// Duration returns the playback length of n bytes of 16-bit PCM at the given
// rate and channel count. Used for session accounting and log lines.
func Duration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (BytesPerSample * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
