package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Dumper writes per-session WAV files for diagnostic playback. It exists for
// the saveAudioToStorage option: operators occasionally need to replay exactly
// what the ASR heard when a transcript looks wrong.
//
// Appends are best-effort by contract — callers log failures and keep the live
// audio path moving. Safe for concurrent use; appends for one session are
// serialized by the caller (the session's feed path).
type Dumper struct {
	dir        string
	sampleRate int
	channels   int

	mu    sync.Mutex
	files map[string]*wavFile
}

// NewDumper creates the dump directory if needed and returns a Dumper writing
// <dir>/<sessionID>.wav files in the given format.
func NewDumper(dir string, sampleRate, channels int) (*Dumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio dumper: create dir: %w", err)
	}
	return &Dumper{
		dir:        dir,
		sampleRate: sampleRate,
		channels:   channels,
		files:      make(map[string]*wavFile),
	}, nil
}

// Append adds one PCM chunk to the session's WAV file, creating the file with
// a placeholder header on first use.
func (d *Dumper) Append(sessionID string, chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	wf, ok := d.files[sessionID]
	if !ok {
		var err error
		wf, err = newWAVFile(filepath.Join(d.dir, sessionID+".wav"), d.sampleRate, d.channels)
		if err != nil {
			return fmt.Errorf("audio dumper: open %s: %w", sessionID, err)
		}
		d.files[sessionID] = wf
	}
	if err := wf.append(chunk); err != nil {
		return fmt.Errorf("audio dumper: append %s: %w", sessionID, err)
	}
	return nil
}

// Close finalizes the session's WAV file, patching the RIFF sizes in the
// header. Closing an unknown session is a no-op.
func (d *Dumper) Close(sessionID string) error {
	d.mu.Lock()
	wf, ok := d.files[sessionID]
	delete(d.files, sessionID)
	d.mu.Unlock()

	if !ok {
		return nil
	}
	if err := wf.finalize(); err != nil {
		return fmt.Errorf("audio dumper: close %s: %w", sessionID, err)
	}
	return nil
}

// CloseAll finalizes every open file. Used on shutdown.
func (d *Dumper) CloseAll() error {
	d.mu.Lock()
	files := d.files
	d.files = make(map[string]*wavFile)
	d.mu.Unlock()

	var firstErr error
	for id, wf := range files {
		if err := wf.finalize(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("audio dumper: close %s: %w", id, err)
		}
	}
	return firstErr
}

// wavFile is one open dump target. The 44-byte canonical WAV header is written
// up front with zeroed sizes and patched by finalize, so a crashed process
// leaves a file that players treat as truncated rather than unreadable.
type wavFile struct {
	f          *os.File
	sampleRate int
	channels   int
	dataBytes  uint32
}

const wavHeaderSize = 44

func newWAVFile(path string, sampleRate, channels int) (*wavFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := writeWAVHeader(f, sampleRate, channels, 0); err != nil {
		f.Close()
		return nil, err
	}
	return &wavFile{f: f, sampleRate: sampleRate, channels: channels}, nil
}

func (w *wavFile) append(chunk []byte) error {
	n, err := w.f.Write(chunk)
	w.dataBytes += uint32(n)
	return err
}

func (w *wavFile) finalize() error {
	if _, err := w.f.Seek(0, 0); err != nil {
		w.f.Close()
		return err
	}
	if err := writeWAVHeader(w.f, w.sampleRate, w.channels, w.dataBytes); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// writeWAVHeader writes the canonical 44-byte PCM WAV header at the current
// offset of f.
func writeWAVHeader(f *os.File, sampleRate, channels int, dataBytes uint32) error {
	byteRate := uint32(sampleRate * channels * BytesPerSample)
	blockAlign := uint16(channels * BytesPerSample)

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataBytes)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], 8*BytesPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataBytes)

	_, err := f.Write(hdr[:])
	return err
}
