// Package groq recognizes utterances with Groq's hosted Whisper models. The
// API is request/response, so every utterance yields a single final result.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultURL   = "https://api.groq.com/openai/v1/audio/transcriptions"
	defaultModel = "whisper-large-v3-turbo"
)

var errMissingAPIKey = errors.New("groq api key not found")

type RecognizerOption func(*Recognizer)

func WithAPIKey(apiKey string) RecognizerOption {
	return func(r *Recognizer) {
		r.apiKey = apiKey
	}
}

func WithURL(url string) RecognizerOption {
	return func(r *Recognizer) {
		r.url = url
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
	apiKey  string
	url     string
	options speechtotext.RecognizerOptions
	client  *http.Client
}

var _ speechtotext.Recognizer = (*Recognizer)(nil)

// NewRecognizer reads GROQ_API_KEY unless a key is given explicitly.
func NewRecognizer(opts ...RecognizerOption) (*Recognizer, error) {
	r := &Recognizer{
		url:     defaultURL,
		options: speechtotext.NewRecognizerOptions(),
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.apiKey == "" {
		apiKey, ok := os.LookupEnv("GROQ_API_KEY")
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

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

func (r *Recognizer) Recognize(ctx context.Context, utterance speechtotext.Utterance) (<-chan speechtotext.Result, error) {
	body, contentType, err := r.requestBody(utterance)
	if err != nil {
		return nil, err
	}

	results := make(chan speechtotext.Result, 1)
	go func() {
		defer close(results)
		result := r.transcribe(ctx, utterance, body, contentType)
		result.Seq = 1
		select {
		case results <- result:
		case <-ctx.Done():
		}
	}()
	return results, nil
}

func (r *Recognizer) requestBody(utterance speechtotext.Utterance) (*bytes.Buffer, string, error) {
	wav, err := audio.EncodeWAV(utterance.Audio, utterance.EncodingInfo)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode utterance: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", utterance.ID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("error creating multipart file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("error writing multipart file: %w", err)
	}

	fields := map[string]string{
		"model":           r.options.Model,
		"response_format": "verbose_json",
		"temperature":     "0",
	}
	if language, _, _ := strings.Cut(r.options.Language, "-"); language != "" {
		fields["language"] = strings.ToLower(language)
	}
	if len(r.options.Keywords) > 0 {
		fields["prompt"] = strings.Join(r.options.Keywords, ", ")
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("error writing multipart field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("error closing multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func (r *Recognizer) transcribe(ctx context.Context, utterance speechtotext.Utterance, body io.Reader, contentType string) speechtotext.Result {
	ctx, span := tracer.Start(ctx, "groq transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.String("utterance.id", utterance.ID),
		attribute.String("request.model", r.options.Model),
		attribute.Int64("audio.duration_ms", utterance.EncodingInfo.Duration(len(utterance.Audio)).Milliseconds()),
	)

	fail := func(err error) speechtotext.Result {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return speechtotext.Result{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return fail(fmt.Errorf("error creating HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, err := io.ReadAll(resp.Body); err == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		return fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
	}

	var response transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fail(fmt.Errorf("error unmarshalling JSON: %w", err))
	}

	text := strings.TrimSpace(response.Text)
	confidence := estimateConfidence(response, text)
	logger.DebugContext(ctx, "utterance transcribed", "utterance_id", utterance.ID, "confidence", confidence)
	return speechtotext.Result{Text: text, IsFinal: true, Confidence: confidence}
}

// estimateConfidence maps Whisper's per-segment log probabilities to [0, 1].
// Whisper does not report a confidence, so the mean token probability
// weighted by the chance the segment holds speech stands in for one.
func estimateConfidence(response transcriptionResponse, text string) float64 {
	if len(response.Segments) == 0 {
		if text == "" {
			return 0
		}
		return 1
	}
	var total float64
	for _, segment := range response.Segments {
		total += math.Exp(segment.AvgLogprob) * (1 - segment.NoSpeechProb)
	}
	return total / float64(len(response.Segments))
}
