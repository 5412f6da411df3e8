package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// OutputStream accepts mono float32 frames for the default output device.
type OutputStream interface {
	Write(samples []float32) error
	Close() error
}

type paOutput struct {
	stream *portaudio.Stream
	buf    []float32
	once   sync.Once
}

// OpenOutput opens the default output device for mono float32 playback at
// the given rate. Writes are split into frameSize chunks.
func OpenOutput(sampleRate, frameSize int) (OutputStream, error) {
	if err := initPortAudio(); err != nil {
		return nil, &HardwareInitError{Device: "default output", Err: err}
	}

	dev, err := portaudio.DefaultOutputDevice()
	if err != nil || dev == nil || dev.MaxOutputChannels < 1 {
		terminatePortAudio()
		if err == nil {
			err = errors.New("no output device available")
		}
		return nil, &HardwareInitError{Device: "default output", Err: err}
	}

	buf := make([]float32, frameSize)
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = frameSize

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		terminatePortAudio()
		return nil, fmt.Errorf("open output on %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		terminatePortAudio()
		return nil, fmt.Errorf("start output on %s: %w", dev.Name, err)
	}

	return &paOutput{stream: stream, buf: buf}, nil
}

func (p *paOutput) Write(samples []float32) error {
	for off := 0; off < len(samples); off += len(p.buf) {
		n := copy(p.buf, samples[off:])
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return err
		}
	}
	return nil
}

func (p *paOutput) Close() error {
	var err error
	p.once.Do(func() {
		p.stream.Stop()
		err = p.stream.Close()
		terminatePortAudio()
	})
	return err
}
