package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/mbernuy21/ai-english-tutor/pkg/audio"
)

// micSource captures float32 microphone audio at 16 kHz mono and delivers
// fixed-size sample blocks. Implements session.MicSource.
type micSource struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	stopped  bool
}

func newMicSource() *micSource {
	return &micSource{}
}

func (m *micSource) Start(ctx context.Context, blockSize int, fn func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("microphone already started")
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(audio.InputSampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	// pending accumulates across device callbacks until a full block is
	// available. Only the audio thread touches it.
	pending := make([]float32, 0, blockSize*2)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			pending = append(pending, decodeF32LE(input)...)
			for len(pending) >= blockSize {
				block := make([]float32, blockSize)
				copy(block, pending)
				n := copy(pending, pending[blockSize:])
				pending = pending[:n]
				fn(block)
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		malgoCtx.Uninit()
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		malgoCtx.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}

	m.malgoCtx = malgoCtx
	m.device = device
	m.stopped = false
	return nil
}

func (m *micSource) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.device == nil {
		return
	}
	m.stopped = true

	m.device.Stop()
	m.device.Uninit()
	m.device = nil
	m.malgoCtx.Uninit()
	m.malgoCtx = nil
}

// decodeF32LE reinterprets the device's little-endian float32 byte stream.
func decodeF32LE(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
