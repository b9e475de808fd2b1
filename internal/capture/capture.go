// Package capture reads microphone audio and forwards fixed-size PCM16LE
// frames to the provider. The device delivers float32 samples; conversion,
// framing and the mute gate all happen here so the rest of the pipeline only
// ever sees wire-format frames.
package capture

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/metrics"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/pcm"
)

// FrameSamples is the number of samples per forwarded frame. At 24kHz this is
// about 170ms of audio per frame.
const FrameSamples = 4096

// Forward receives one complete PCM16LE frame. It runs on the capture path,
// so it must hand off quickly rather than block.
type Forward func(frame []byte) error

// Capture owns the input device and the frame accumulator.
type Capture struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	forward    Forward
	log        zerolog.Logger
	m          *metrics.Metrics

	// muted gates forwarding only. The device keeps running while muted so
	// unmute resumes instantly with no warm-up gap.
	muted atomic.Bool

	mu      sync.Mutex
	pending []byte
	level   float64
	started bool
}

// frameBytes is the wire size of one forwarded frame.
const frameBytes = FrameSamples * pcm.BytesPerSample

// New prepares a capture pipeline. The device is not opened until Start.
func New(sampleRate int, forward Forward, log zerolog.Logger) *Capture {
	return &Capture{
		sampleRate: sampleRate,
		forward:    forward,
		log:        log,
		m:          metrics.Default,
	}
}

// Start opens the input device and begins capturing. deviceName selects a
// capture device by substring match; empty uses the system default.
func (c *Capture) Start(deviceName string) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("capture: already started")
	}
	c.started = true
	c.mu.Unlock()

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("capture: init audio context: %w", err)
	}
	c.ctx = ctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	if deviceName != "" {
		id, err := c.findDevice(deviceName)
		if err != nil {
			c.log.Warn().Err(err).Str("device", deviceName).Msg("falling back to default input device")
		} else {
			deviceConfig.Capture.DeviceID = id.Pointer()
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.ingest(input)
		},
	}
	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		return fmt.Errorf("capture: init input device: %w", err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		return fmt.Errorf("capture: start input device: %w", err)
	}
	c.log.Info().Int("sample_rate", c.sampleRate).Msg("microphone capture started")
	return nil
}

// findDevice resolves a capture device whose name contains the given string.
func (c *Capture) findDevice(name string) (malgo.DeviceID, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("enumerate capture devices: %w", err)
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("no capture device matching %q", name)
}

// ingest accumulates device samples and emits complete frames. It is the
// device data callback, split out so framing is testable without a device.
func (c *Capture) ingest(raw []byte) {
	converted := pcm.Float32LETo16LE(raw)
	if len(converted) == 0 {
		return
	}

	c.mu.Lock()
	c.pending = append(c.pending, converted...)
	c.level = pcm.RMS(converted) / 32767.0

	var frames [][]byte
	for len(c.pending) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, c.pending[:frameBytes])
		c.pending = c.pending[frameBytes:]
		frames = append(frames, frame)
	}
	c.mu.Unlock()

	for _, frame := range frames {
		if c.muted.Load() {
			c.m.FramesMuted.Inc()
			continue
		}
		if err := c.forward(frame); err != nil {
			c.log.Warn().Err(err).Msg("dropped microphone frame")
			continue
		}
		c.m.FramesForwarded.Inc()
	}
}

// SetMuted gates frame forwarding. Capture itself keeps running.
func (c *Capture) SetMuted(muted bool) {
	if c.muted.Swap(muted) != muted {
		c.log.Info().Bool("muted", muted).Msg("microphone mute changed")
	}
}

// Muted reports the current mute state.
func (c *Capture) Muted() bool { return c.muted.Load() }

// Level reports the RMS of the most recent device callback, in [0, 1].
// Useful for input metering in a UI or debug endpoint.
func (c *Capture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Close stops the device and releases the audio context.
func (c *Capture) Close() {
	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx = nil
	}
}
