// Package recording writes the agent's synthesized speech to an Ogg Opus
// file on disk. Incoming PCM is encoded in 20ms Opus frames and wrapped in
// RTP packets for the Ogg container writer.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/pcm"
)

const (
	frameDuration = 20 * time.Millisecond
	// Opus granule positions are always expressed at 48kHz.
	ticksPerFrame = 960
	rtpSSRC       = 0x0badcafe
	rtpPayload    = 111
)

// Recorder encodes mono PCM16LE into an Ogg Opus file.
type Recorder struct {
	sampleRate  int
	frameBytes  int
	encoder     *opus.Encoder
	file        *os.File
	ogg         *oggwriter.OggWriter
	log         zerolog.Logger

	mu        sync.Mutex
	pending   []byte
	sequence  uint16
	timestamp uint32
	closed    bool
}

// New opens a recording file under dir, named by start time. sampleRate must
// be one the Opus codec accepts (8, 12, 16, 24 or 48 kHz).
func New(dir string, sampleRate int, log zerolog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create dir: %w", err)
	}
	name := fmt.Sprintf("call_%s.ogg", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recording: create %s: %w", path, err)
	}
	ogg, err := oggwriter.NewWith(file, uint32(sampleRate), 1)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("recording: open ogg writer: %w", err)
	}
	encoder, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		ogg.Close()
		return nil, fmt.Errorf("recording: create opus encoder: %w", err)
	}

	samplesPerFrame := sampleRate / int(time.Second/frameDuration)
	r := &Recorder{
		sampleRate: sampleRate,
		frameBytes: samplesPerFrame * pcm.BytesPerSample,
		encoder:    encoder,
		file:       file,
		ogg:        ogg,
		log:        log,
	}
	log.Info().Str("path", path).Int("sample_rate", sampleRate).Msg("call recording started")
	return r, nil
}

// Write buffers PCM and encodes every complete 20ms frame.
func (r *Recorder) Write(audio []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recording: writer closed")
	}
	r.pending = append(r.pending, audio...)
	for len(r.pending) >= r.frameBytes {
		frame := r.pending[:r.frameBytes]
		r.pending = r.pending[r.frameBytes:]
		if err := r.encodeFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

// encodeFrame encodes one frame and writes it as an RTP packet.
// Caller must hold r.mu.
func (r *Recorder) encodeFrame(frame []byte) error {
	samples := pcm.ToInt16(frame)
	buf := make([]byte, 1275)
	n, err := r.encoder.Encode(samples, buf)
	if err != nil {
		return fmt.Errorf("recording: encode frame: %w", err)
	}

	r.sequence++
	r.timestamp += ticksPerFrame
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    rtpPayload,
			SequenceNumber: r.sequence,
			Timestamp:      r.timestamp,
			SSRC:           rtpSSRC,
		},
		Payload: buf[:n],
	}
	if err := r.ogg.WriteRTP(packet); err != nil {
		return fmt.Errorf("recording: write packet: %w", err)
	}
	return nil
}

// Close pads the final partial frame with silence, then finalizes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if len(r.pending) > 0 {
		frame := make([]byte, r.frameBytes)
		copy(frame, r.pending)
		r.pending = nil
		if err := r.encodeFrame(frame); err != nil {
			r.log.Warn().Err(err).Msg("final frame encode failed")
		}
	}
	if err := r.ogg.Close(); err != nil {
		return fmt.Errorf("recording: close ogg: %w", err)
	}
	r.log.Info().Msg("call recording closed")
	return nil
}
