// Package audio provides the PCM wire formats shared by the capture,
// transport, and playback layers: 16-bit little-endian mono PCM at a fixed
// sample rate, framed for streaming as base64 with a MIME descriptor.
package audio

import (
	"encoding/base64"
	"math"
)

const (
	// InputSampleRate is the microphone capture rate in Hz.
	InputSampleRate = 16000

	// OutputSampleRate is the model's synthesized audio rate in Hz.
	OutputSampleRate = 24000

	// FrameSamples is the fixed capture block size in samples.
	FrameSamples = 4096

	// InputMIMEType tags outbound microphone frames.
	InputMIMEType = "audio/pcm;rate=16000"
)

// Config specifies PCM format parameters.
type Config struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// InputConfig returns the microphone capture format.
func InputConfig() Config {
	return Config{SampleRate: InputSampleRate, Channels: 1, BitsPerSample: 16}
}

// OutputConfig returns the playback format for model audio.
func OutputConfig() Config {
	return Config{SampleRate: OutputSampleRate, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// Seconds returns the duration in seconds for the given byte count.
func (c Config) Seconds(bytes int) float64 {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(bytes) / float64(bps)
}

// BytesForDurationMs returns the byte count for the given duration.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}

// Frame is one wire-ready block of microphone audio.
type Frame struct {
	// PCM is 16-bit little-endian mono audio.
	PCM []byte

	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Base64 returns the transport-safe text encoding of the frame payload.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.PCM)
}

// EncodeFrame converts a block of float samples in [-1, 1] into a wire-ready
// frame. Samples outside the valid range are clamped. The transform is pure
// and stateless; it runs once per capture callback.
func EncodeFrame(samples []float32) Frame {
	return Frame{
		PCM:      EncodePCM16(samples),
		MIMEType: InputMIMEType,
	}
}

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM
// using standard linear scaling.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		v := int16(sample * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM back to float samples.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}

// CalculateRMSEnergy computes the root-mean-square energy of PCM16LE audio.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM
// data, between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}
