// Package portaudio captures microphone audio through PortAudio.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Client is an audio.Source reading the default input device with blocking
// reads of bufferSize samples.
type Client struct {
	bufferSize int
	sampleRate int
	stream     *portaudio.Stream

	in []int16
}

var _ audio.Source = (*Client)(nil)

func NewClient(sampleRate, bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), bufferSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		sampleRate: sampleRate,
		stream:     stream,
		in:         in,
	}, nil
}

func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}
	defer c.stream.Stop()

	audioBuffer := bytes.Buffer{}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// An overflow still fills the buffer, only older samples were lost
		// inside the driver.
		if err := c.stream.Read(); err != nil && err != portaudio.InputOverflowed {
			return fmt.Errorf("failed to read from PortAudio stream: %w", err)
		}

		audioBuffer.Reset()
		if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
			return fmt.Errorf("failed to encode samples: %w", err)
		}
		onAudio(audioBuffer.Bytes())
	}
}

func (c *Client) Close() {
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
