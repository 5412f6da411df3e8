package audio

import (
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device is an audio endpoint as reported by PortAudio.
type Device struct {
	Name           string
	HostAPI        string
	InputChannels  int
	OutputChannels int
	SampleRate     float64
	DefaultInput   bool
	DefaultOutput  bool
}

var (
	paMu   sync.Mutex
	paRefs int
)

// initPortAudio reference-counts PortAudio so capture and playback can
// share the library.
func initPortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	paRefs++
	return nil
}

func terminatePortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		return nil
	}
	paRefs--
	if paRefs == 0 {
		return portaudio.Terminate()
	}
	return nil
}

// ListDevices returns every device PortAudio can see.
func ListDevices() ([]Device, error) {
	if err := initPortAudio(); err != nil {
		return nil, err
	}
	defer terminatePortAudio()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		dev := Device{
			Name:           d.Name,
			InputChannels:  d.MaxInputChannels,
			OutputChannels: d.MaxOutputChannels,
			SampleRate:     d.DefaultSampleRate,
			DefaultInput:   defIn != nil && d.Name == defIn.Name,
			DefaultOutput:  defOut != nil && d.Name == defOut.Name,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}

	return out, nil
}

// PortAudioSource captures from one PortAudio input device chosen at init.
type PortAudioSource struct {
	dev *portaudio.DeviceInfo
}

// OpenPortAudioSource selects the first input device whose name contains
// one of prefer (case-insensitive), else the default input. Not finding any
// input is a HardwareInitError.
func OpenPortAudioSource(prefer []string) (*PortAudioSource, error) {
	if err := initPortAudio(); err != nil {
		return nil, &HardwareInitError{Err: err}
	}

	devs, err := portaudio.Devices()
	if err != nil {
		terminatePortAudio()
		return nil, &HardwareInitError{Err: err}
	}

	if dev := pickInput(devs, prefer); dev != nil {
		log.Info("Selected input device", "device", dev.Name)
		return &PortAudioSource{dev: dev}, nil
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels < 1 {
		terminatePortAudio()
		if err == nil {
			err = errors.New("no input device available")
		}
		return nil, &HardwareInitError{Device: "default", Err: err}
	}

	log.Warn("Preferred input device not found, using default", "prefer", prefer, "device", dev.Name)
	return &PortAudioSource{dev: dev}, nil
}

func pickInput(devs []*portaudio.DeviceInfo, prefer []string) *portaudio.DeviceInfo {
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		if matchesName(d.Name, prefer) {
			return d
		}
	}
	return nil
}

func matchesName(name string, prefer []string) bool {
	name = strings.ToLower(name)
	for _, p := range prefer {
		if p != "" && strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (s *PortAudioSource) Name() string { return s.dev.Name }

// Open starts a mono 16 kHz int16 stream on the selected device.
func (s *PortAudioSource) Open(frameSize int) (InputStream, error) {
	buf := make([]int16, frameSize)

	params := portaudio.LowLatencyParameters(s.dev, nil)
	params.Input.Channels = 1
	params.SampleRate = SampleRate
	params.FramesPerBuffer = frameSize

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open stream on %s: %w", s.dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start stream on %s: %w", s.dev.Name, err)
	}

	return &paInput{stream: stream, buf: buf}, nil
}

// Close releases PortAudio.
func (s *PortAudioSource) Close() error {
	return terminatePortAudio()
}

type paInput struct {
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
}

func (p *paInput) Read(frame []int16) error {
	err := p.stream.Read()
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return err
	}
	copy(frame, p.buf)
	return nil
}

func (p *paInput) Close() error {
	var err error
	p.once.Do(func() {
		p.stream.Stop()
		err = p.stream.Close()
	})
	return err
}
