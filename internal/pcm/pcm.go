// Package pcm holds helpers for the 16-bit little-endian mono PCM wire format
// shared by capture, playback and recording.
package pcm

import (
	"encoding/binary"
	"math"
	"time"
)

// BytesPerSample is the width of one sample on the wire.
const BytesPerSample = 2

// FloatTo16LE converts native float samples to PCM16LE with clamping to [-1, 1].
func FloatTo16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		v := int16(f * 32767)
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return out
}

// Float32LETo16LE converts a raw buffer of little-endian float32 samples
// (the native format of most capture backends) to PCM16LE.
func Float32LETo16LE(raw []byte) []byte {
	n := len(raw) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return FloatTo16LE(samples)
}

// RMS computes the root-mean-square amplitude of a PCM16LE buffer.
// Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		sumSquares += float64(v) * float64(v)
	}
	return math.Sqrt(sumSquares / float64(n))
}

// Duration reports how long a PCM16LE buffer plays at the given sample rate.
func Duration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// ToInt16 decodes a PCM16LE buffer into int16 samples.
func ToInt16(pcm []byte) []int16 {
	n := len(pcm) / BytesPerSample
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}
