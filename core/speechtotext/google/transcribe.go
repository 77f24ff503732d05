// Package google recognizes utterances with Google Cloud Speech-to-Text
// streaming recognition.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"
)

const (
	defaultModel = "latest_short"

	audioChunkDuration = 100 * time.Millisecond
)

type RecognizerOption func(*Recognizer)

func WithClientOptions(opts ...option.ClientOption) RecognizerOption {
	return func(r *Recognizer) {
		r.clientOptions = append(r.clientOptions, opts...)
	}
}

// WithCredentialsFile uses a service account key instead of the application
// default credentials.
func WithCredentialsFile(path string) RecognizerOption {
	return func(r *Recognizer) {
		r.clientOptions = append(r.clientOptions, option.WithCredentialsFile(path))
	}
}

func WithRecognizerOptions(opts ...speechtotext.RecognizerOption) RecognizerOption {
	return func(r *Recognizer) {
		for _, opt := range opts {
			opt(&r.options)
		}
	}
}

type Recognizer struct {
	client        *speech.Client
	clientOptions []option.ClientOption
	options       speechtotext.RecognizerOptions
}

var _ speechtotext.Recognizer = (*Recognizer)(nil)

func NewRecognizer(ctx context.Context, opts ...RecognizerOption) (*Recognizer, error) {
	r := &Recognizer{options: speechtotext.NewRecognizerOptions()}
	for _, opt := range opts {
		opt(r)
	}
	if r.options.Model == "" {
		r.options.Model = defaultModel
	}

	client, err := speech.NewClient(ctx, r.clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	r.client = client
	return r, nil
}

func (r *Recognizer) Close() error {
	return r.client.Close()
}

func (r *Recognizer) Recognize(ctx context.Context, utterance speechtotext.Utterance) (<-chan speechtotext.Result, error) {
	encoding, err := convertEncoding(utterance.EncodingInfo)
	if err != nil {
		return nil, fmt.Errorf("invalid encoding: %w", err)
	}

	stream, err := r.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start streaming recognition: %w", err)
	}

	config := &speechpb.RecognitionConfig{
		Encoding:        encoding,
		SampleRateHertz: int32(utterance.EncodingInfo.SampleRate),
		LanguageCode:    r.options.Language,
		Model:           r.options.Model,
	}
	if len(r.options.Keywords) > 0 {
		config.SpeechContexts = []*speechpb.SpeechContext{{Phrases: r.options.Keywords}}
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          config,
				InterimResults:  r.options.InterimResults,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	results := make(chan speechtotext.Result)
	go r.run(ctx, stream, utterance, results)
	return results, nil
}

func (r *Recognizer) run(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient, utterance speechtotext.Utterance, results chan<- speechtotext.Result) {
	ctx, span := tracer.Start(ctx, "google recognize")
	defer span.End()
	span.SetAttributes(attribute.String("utterance.id", utterance.ID))
	defer close(results)

	go func() {
		chunkSize := max(utterance.EncodingInfo.FrameSize(audioChunkDuration), 1)
		for start := 0; start < len(utterance.Audio); start += chunkSize {
			end := min(start+chunkSize, len(utterance.Audio))
			if err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: utterance.Audio[start:end],
				},
			}); err != nil {
				// Recv reports the stream failure.
				logger.DebugContext(ctx, "failed to send audio", "error", err)
				return
			}
		}
		if err := stream.CloseSend(); err != nil {
			logger.DebugContext(ctx, "failed to close send side", "error", err)
		}
	}()

	transcript := &transcriptAccumulator{}
	emit := func(result speechtotext.Result) bool {
		result.Seq = transcript.nextSeq()
		select {
		case results <- result:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			text, confidence := transcript.final()
			emit(speechtotext.Result{Text: text, IsFinal: true, Confidence: confidence})
			return
		}
		if err == nil && resp.Error != nil {
			err = fmt.Errorf("speech service error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "streaming recognition failed")
			emit(speechtotext.Result{Err: fmt.Errorf("failed to receive recognition result: %w", err)})
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alternative := result.Alternatives[0]
			text := transcript.add(alternative.Transcript, float64(alternative.Confidence), result.IsFinal)
			if text == "" {
				continue
			}
			if !emit(speechtotext.Result{Text: text, Confidence: float64(alternative.Confidence)}) {
				return
			}
		}
	}
}

// transcriptAccumulator joins the final pieces of a streaming recognition.
type transcriptAccumulator struct {
	seq         int
	finalized   []string
	confidences []float64
}

func (t *transcriptAccumulator) nextSeq() int {
	t.seq++
	return t.seq
}

// add records a result and returns the transcript so far.
func (t *transcriptAccumulator) add(text string, confidence float64, isFinal bool) string {
	text = strings.TrimSpace(text)
	if isFinal {
		if text != "" {
			t.finalized = append(t.finalized, text)
			t.confidences = append(t.confidences, confidence)
		}
		return strings.Join(t.finalized, " ")
	}
	if text == "" {
		return strings.Join(t.finalized, " ")
	}
	return strings.Join(append(t.finalized[:len(t.finalized):len(t.finalized)], text), " ")
}

func (t *transcriptAccumulator) final() (string, float64) {
	confidence := 0.0
	for _, c := range t.confidences {
		confidence += c
	}
	if len(t.confidences) > 0 {
		confidence /= float64(len(t.confidences))
	}
	return strings.Join(t.finalized, " "), confidence
}

func convertEncoding(encoding audio.EncodingInfo) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding.Format {
	case audio.EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16, nil
	case audio.EncodingMulaw:
		return speechpb.RecognitionConfig_MULAW, nil
	}
	return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
}
