// Package deepgram recognizes utterances with Deepgram's live listen API,
// one websocket per utterance.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"

	audioChunkDuration = 100 * time.Millisecond

	// Deepgram message types the SDK interfaces do not cover.
	typeMetadata = "Metadata"
	typeError    = "Error"
)

var errMissingAPIKey = errors.New("deepgram api key not found")

type RecognizerOption func(*Recognizer)

func WithAPIKey(apiKey string) RecognizerOption {
	return func(r *Recognizer) {
		r.apiKey = apiKey
	}
}

// WithEndpoint overrides the listen endpoint, mostly for tests and proxies.
func WithEndpoint(endpoint string) RecognizerOption {
	return func(r *Recognizer) {
		r.endpoint = endpoint
	}
}

func WithRecognizerOptions(opts ...speechtotext.RecognizerOption) RecognizerOption {
	return func(r *Recognizer) {
		for _, opt := range opts {
			opt(&r.options)
		}
	}
}

// Recognizer implements speechtotext.Recognizer on top of Deepgram.
type Recognizer struct {
	apiKey   string
	endpoint string
	options  speechtotext.RecognizerOptions
	dialer   *websocket.Dialer
}

var _ speechtotext.Recognizer = (*Recognizer)(nil)

// NewRecognizer reads DEEPGRAM_API_KEY unless a key is given explicitly.
func NewRecognizer(opts ...RecognizerOption) (*Recognizer, error) {
	r := &Recognizer{
		endpoint: defaultEndpoint,
		options:  speechtotext.NewRecognizerOptions(),
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok || apiKey == "" {
			return nil, errMissingAPIKey
		}
		r.apiKey = apiKey
	}
	if r.options.Model == "" {
		r.options.Model = defaultModel
	}
	return r, nil
}

func (r *Recognizer) Recognize(ctx context.Context, utterance speechtotext.Utterance) (<-chan speechtotext.Result, error) {
	encoding, err := convertEncoding(utterance.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := r.connect(ctx, encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	results := make(chan speechtotext.Result)
	session := &utteranceSession{
		conn:      conn,
		results:   results,
		chunkSize: utterance.EncodingInfo.FrameSize(audioChunkDuration),
	}
	go session.run(ctx, utterance)

	return results, nil
}

func (r *Recognizer) connect(ctx context.Context, encoding encodingInfo) (*websocket.Conn, error) {
	listenURL, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram endpoint: %w", err)
	}
	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", r.options.Model)
	queryParams.Set("language", r.options.Language)
	queryParams.Set("smart_format", "true")
	if r.options.InterimResults {
		queryParams.Set("interim_results", "true")
	}
	for _, keyword := range r.options.Keywords {
		queryParams.Add("keyterm", keyword)
	}
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := r.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + r.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

type utteranceSession struct {
	conn      *websocket.Conn
	results   chan<- speechtotext.Result
	chunkSize int

	seq         int
	finalized   []string
	confidences []float64
}

func (s *utteranceSession) run(ctx context.Context, utterance speechtotext.Utterance) {
	ctx, span := tracer.Start(ctx, "deepgram recognize")
	defer span.End()
	span.SetAttributes(attribute.String("utterance.id", utterance.ID))

	var wg sync.WaitGroup
	defer close(s.results)
	defer wg.Wait()
	defer s.conn.Close()

	stop := context.AfterFunc(ctx, func() {
		// Unblocks ReadMessage.
		s.conn.Close()
	})
	defer stop()

	writeErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		writeErr <- s.writeAudio(utterance.Audio)
	}()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.emitFinal(ctx)
				return
			}
			select {
			case werr := <-writeErr:
				if werr != nil {
					err = werr
				}
			default:
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "deepgram stream failed")
			s.emit(ctx, speechtotext.Result{Err: fmt.Errorf("failed to read deepgram message: %w", err)})
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		done, err := s.processMessage(ctx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deepgram reported an error")
			s.emit(ctx, speechtotext.Result{Err: err})
			return
		}
		if done {
			s.emitFinal(ctx)
			return
		}
	}
}

func (s *utteranceSession) writeAudio(pcm []byte) error {
	chunkSize := max(s.chunkSize, 1)
	for start := 0; start < len(pcm); start += chunkSize {
		end := min(start+chunkSize, len(pcm))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm[start:end]); err != nil {
			return fmt.Errorf("failed to write to deepgram client: %w", err)
		}
	}

	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

// processMessage handles one text frame and reports whether the utterance is
// complete.
func (s *utteranceSession) processMessage(ctx context.Context, msg []byte) (bool, error) {
	var parsedMsg struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.WarnContext(ctx, "failed to unmarshal deepgram message", "error", err)
		return false, nil
	}

	switch parsedMsg.Type {
	case string(api.TypeMessageResponse):
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.WarnContext(ctx, "failed to unmarshal deepgram transcript", "error", err)
			return false, nil
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return false, nil
		}
		alternative := msgResp.Channel.Alternatives[0]
		transcript := strings.TrimSpace(alternative.Transcript)

		if msgResp.IsFinal {
			if transcript != "" {
				s.finalized = append(s.finalized, transcript)
				s.confidences = append(s.confidences, alternative.Confidence)
			}
			transcript = ""
		}
		text := s.transcript(transcript)
		if text != "" {
			s.emit(ctx, speechtotext.Result{Text: text, Confidence: alternative.Confidence})
		}

	case typeMetadata:
		// Deepgram sends metadata once every result has been flushed.
		return true, nil

	case typeError:
		return false, fmt.Errorf("deepgram error: %s", parsedMsg.Description)
	}

	return false, nil
}

func (s *utteranceSession) transcript(interim string) string {
	parts := s.finalized
	if interim != "" {
		parts = append(parts[:len(parts):len(parts)], interim)
	}
	return strings.Join(parts, " ")
}

func (s *utteranceSession) emitFinal(ctx context.Context) {
	confidence := 0.0
	for _, c := range s.confidences {
		confidence += c
	}
	if len(s.confidences) > 0 {
		confidence /= float64(len(s.confidences))
	}
	s.emit(ctx, speechtotext.Result{Text: s.transcript(""), IsFinal: true, Confidence: confidence})
}

func (s *utteranceSession) emit(ctx context.Context, result speechtotext.Result) {
	s.seq++
	result.Seq = s.seq
	select {
	case s.results <- result:
	case <-ctx.Done():
	}
}
