// Package deepgram provides a Deepgram-backed ASR provider using the Deepgram
// streaming WebSocket API. It implements the asr.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/umigoe/umigoe/pkg/provider/asr"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "ja"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the recognition language used when StreamConfig leaves it
// empty.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL. Intended for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements asr.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.LanguageCode, cfg.SampleRateHz, and cfg.MediaEncoding.
// Deepgram has no named custom vocabularies, so cfg.VocabularyName is ignored.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		events: make(chan asr.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg asr.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := deepgramLanguage(cfg.LanguageCode)
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRateHz
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", deepgramEncoding(cfg.MediaEncoding))
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramLanguage maps a BCP-47 code to the tag Deepgram lists. Deepgram
// registers Japanese as the bare primary subtag.
func deepgramLanguage(code string) string {
	if strings.EqualFold(code, "ja-JP") {
		return "ja"
	}
	return code
}

// deepgramEncoding maps the console's media encoding name to Deepgram's.
// Raw 16-bit little-endian PCM is "linear16" on the Deepgram side.
func deepgramEncoding(encoding string) string {
	if encoding == "" || strings.EqualFold(encoding, "pcm") {
		return "linear16"
	}
	return encoding
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements asr.SessionHandle.
type session struct {
	conn   *websocket.Conn
	events chan asr.Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu   sync.Mutex
	readErr error
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Events returns the ordered result stream.
func (s *session) Events() <-chan asr.Event { return s.events }

// Err reports the terminal read error, if any.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Send a close message to Deepgram to flush pending audio.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// events channel. The channel is closed when the loop exits.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.recordReadErr(ctx, err)
			return
		}

		ev, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

// recordReadErr stores the terminal read error unless the session was shut
// down deliberately, in which case the error is the expected close.
func (s *session) recordReadErr(ctx context.Context, err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if ctx.Err() != nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}
	s.errMu.Lock()
	s.readErr = fmt.Errorf("deepgram: read: %w", err)
	s.errMu.Unlock()
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into an Event.
// Returns (Event, true) on success, or (zero, false) if the message should be
// ignored (metadata, keep-alive, empty results).
func parseDeepgramResponse(data []byte) (asr.Event, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return asr.Event{}, false
	}
	if resp.Type != "Results" {
		return asr.Event{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return asr.Event{}, false
	}

	alts := make([]asr.Alternative, 0, len(resp.Channel.Alternatives))
	for _, a := range resp.Channel.Alternatives {
		items := make([]asr.Item, 0, len(a.Words))
		for _, w := range a.Words {
			items = append(items, asr.Item{
				Content:    w.Word,
				Confidence: w.Confidence,
				StartTime:  time.Duration(w.Start * float64(time.Second)),
				EndTime:    time.Duration(w.End * float64(time.Second)),
			})
		}
		alts = append(alts, asr.Alternative{
			Transcript: a.Transcript,
			Items:      items,
		})
	}

	return asr.Event{
		IsPartial:    !resp.IsFinal,
		Alternatives: alts,
		StartTime:    time.Duration(resp.Start * float64(time.Second)),
		EndTime:      time.Duration((resp.Start + resp.Duration) * float64(time.Second)),
	}, true
}
