package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

var errDeviceStopped = errors.New("capture device stopped unexpectedly")

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	onAudio func(audio []byte)
	stopped chan error

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32, periodSize uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = sampleRate
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = periodSize
	c.config.Periods = 3

	c.audioContext = audioContext

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.mu.Lock()
			onAudio := c.onAudio
			c.mu.Unlock()
			if onAudio != nil {
				onAudio(pInput[:n])
			}
		},
		Stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.stopped != nil {
				select {
				case c.stopped <- errDeviceStopped:
				default:
				}
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

// Start begins delivering audio to onAudio. The returned channel receives an
// error if the device stops without being asked to.
func (c *captureClient) Start(onAudio func(audio []byte)) (<-chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil, fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil, fmt.Errorf("device already capturing")
	}

	c.onAudio = onAudio
	c.stopped = make(chan error, 1)
	if err := c.device.Start(); err != nil {
		c.onAudio = nil
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	return c.stopped, nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	if c.device == nil {
		c.mu.Unlock()
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		c.mu.Unlock()
		return nil
	}
	// Requested stops must not look like device failures.
	c.stopped = nil
	c.onAudio = nil
	device := c.device
	c.mu.Unlock()

	if err := device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.onAudio = nil
	return nil
}
