package speechtotext

import "time"

const (
	DefaultLanguage = "en-US"
	DefaultTimeout  = 10 * time.Second
)

// RecognizerOptions are shared by the recognizer implementations. Each
// provider falls back to its own default model when Model is empty.
type RecognizerOptions struct {
	Language       string
	Model          string
	InterimResults bool
	Keywords       []string
}

type RecognizerOption func(*RecognizerOptions)

func NewRecognizerOptions(opts ...RecognizerOption) RecognizerOptions {
	options := RecognizerOptions{Language: DefaultLanguage, InterimResults: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithLanguage(language string) RecognizerOption {
	return func(o *RecognizerOptions) {
		o.Language = language
	}
}

func WithModel(model string) RecognizerOption {
	return func(o *RecognizerOptions) {
		o.Model = model
	}
}

// WithoutInterimResults asks the provider for final results only.
func WithoutInterimResults() RecognizerOption {
	return func(o *RecognizerOptions) {
		o.InterimResults = false
	}
}

// WithKeywords boosts recognition of the given words, typically the control
// phrases.
func WithKeywords(keywords ...string) RecognizerOption {
	return func(o *RecognizerOptions) {
		o.Keywords = append(o.Keywords, keywords...)
	}
}

type StreamOption func(*Stream)

// WithTimeout bounds the time an utterance may take from submission to its
// final result. Zero disables the bound.
func WithTimeout(timeout time.Duration) StreamOption {
	return func(s *Stream) {
		s.timeout = timeout
	}
}
