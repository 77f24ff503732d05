// Package miniaudio captures microphone audio through miniaudio (malgo).
package miniaudio

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

type ClientOption func(*Client)

func WithSampleRate(sampleRate int) ClientOption {
	return func(c *Client) {
		c.sampleRate = sampleRate
	}
}

// WithPeriod sets the device callback period. Shorter periods lower latency
// at the cost of more callbacks.
func WithPeriod(period time.Duration) ClientOption {
	return func(c *Client) {
		c.period = period
	}
}

func WithDebugLogging() ClientOption {
	return func(c *Client) {
		c.debug = true
	}
}

// Client is an audio.Source holding the default capture device from
// NewClient until Close.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	captureClient

	sampleRate int
	period     time.Duration
	debug      bool
}

var _ audio.Source = (*Client)(nil)

func NewClient(opts ...ClientOption) (*Client, error) {
	client := Client{
		sampleRate: audio.DefaultSampleRate,
		period:     30 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&client)
	}

	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) {
			if client.debug {
				log.Println("malgo:", message)
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	client.audioContext = audioCtx

	periodSize := uint32(int64(client.sampleRate) * int64(client.period) / int64(time.Second))
	if err := client.captureClient.Init(audioCtx, uint32(client.sampleRate), periodSize); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

// Stream captures until ctx is done or the device stops on its own.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	stopped, err := c.captureClient.Start(onAudio)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.captureClient.Stop(); err != nil {
			log.Printf("Warning: failed to stop capture: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-stopped:
		return err
	}
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
