package audio

import (
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	SampleRate = 16000
	FrameSize  = 1024 // 64ms at 16 kHz

	// MinFrames is the shortest capture accepted by Stop.
	MinFrames = 2

	joinTimeout = 2 * time.Second
)

// FrameDuration is the wall time covered by one frame.
const FrameDuration = time.Duration(FrameSize) * time.Second / SampleRate

// ErrAlreadyRecording is returned by Start while a capture is live.
var ErrAlreadyRecording = errors.New("recording already in progress")

// HardwareInitError means no usable input device could be opened.
type HardwareInitError struct {
	Device string
	Err    error
}

func (e *HardwareInitError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio hardware init: %v", e.Err)
	}
	return fmt.Sprintf("audio hardware init (%s): %v", e.Device, e.Err)
}

func (e *HardwareInitError) Unwrap() error { return e.Err }

// RecordingError reports a capture that could not produce a usable file.
type RecordingError struct {
	Reason string
	Err    error
}

func (e *RecordingError) Error() string {
	if e.Err == nil {
		return "recording: " + e.Reason
	}
	return fmt.Sprintf("recording: %s: %v", e.Reason, e.Err)
}

func (e *RecordingError) Unwrap() error { return e.Err }

// InputStream is an open capture stream delivering mono int16 frames.
type InputStream interface {
	// Read blocks until len(frame) samples have been captured.
	Read(frame []int16) error
	Close() error
}

// InputSource opens capture streams on an already selected device.
type InputSource interface {
	Open(frameSize int) (InputStream, error)
	Name() string
}

// Handle is a live recording. It is created by Start and finished by Stop.
type Handle struct {
	Path      string
	StartedAt time.Time

	stream  InputStream
	stop    atomic.Bool
	done    chan struct{}
	samples []int16
	frames  int
	err     error
}

// Recorder captures microphone audio on a dedicated goroutine.
type Recorder struct {
	src InputSource
	dir string
	now func() time.Time

	mu     sync.Mutex
	active *Handle
}

func NewRecorder(src InputSource, dir string) *Recorder {
	return &Recorder{
		src: src,
		dir: dir,
		now: time.Now,
	}
}

// Start opens the input stream and begins capturing. It returns immediately.
func (r *Recorder) Start() (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, &RecordingError{Reason: "create recordings dir", Err: err}
	}

	stream, err := r.src.Open(FrameSize)
	if err != nil {
		return nil, &RecordingError{Reason: "open input stream", Err: err}
	}

	now := r.now()
	h := &Handle{
		Path:      filepath.Join(r.dir, fmt.Sprintf("audio_%s.wav", now.Format("20060102_150405"))),
		StartedAt: now,
		stream:    stream,
		done:      make(chan struct{}),
		samples:   make([]int16, 0, SampleRate*10),
	}
	r.active = h

	go h.capture()

	log.Info("Recording started", "device", r.src.Name(), "path", h.Path)
	return h, nil
}

func (h *Handle) capture() {
	defer close(h.done)

	frame := make([]int16, FrameSize)
	for !h.stop.Load() {
		if err := h.stream.Read(frame); err != nil {
			h.err = err
			return
		}
		h.samples = append(h.samples, frame...)
		h.frames++
	}
}

// Stop ends the capture, waits for the capture goroutine and writes the
// WAV file. The returned path is only valid when err is nil.
func (r *Recorder) Stop(h *Handle) (string, error) {
	r.mu.Lock()
	if h == nil || r.active != h {
		r.mu.Unlock()
		return "", &RecordingError{Reason: "no such recording in progress"}
	}
	r.active = nil
	r.mu.Unlock()

	h.stop.Store(true)

	select {
	case <-h.done:
	case <-time.After(joinTimeout):
		// Closing the stream is the only way to unblock a stuck read.
		_ = h.stream.Close()
		return "", &RecordingError{Reason: "capture goroutine did not stop"}
	}

	if err := h.stream.Close(); err != nil {
		log.Warn("Failed to close input stream", "err", err)
	}

	if h.err != nil {
		return "", &RecordingError{Reason: "input device read failed", Err: h.err}
	}
	if h.frames < MinFrames {
		return "", &RecordingError{Reason: fmt.Sprintf("captured %d frames, need at least %d", h.frames, MinFrames)}
	}

	if err := WriteWAV(h.Path, h.samples, SampleRate); err != nil {
		return "", &RecordingError{Reason: "write wav", Err: err}
	}

	dur := time.Duration(len(h.samples)) * time.Second / SampleRate
	log.Info("Recording saved", "path", h.Path, "frames", h.frames, "duration", dur)

	return h.Path, nil
}

// Abort stops a live capture without writing a file.
func (r *Recorder) Abort() {
	r.mu.Lock()
	h := r.active
	r.active = nil
	r.mu.Unlock()

	if h == nil {
		return
	}

	h.stop.Store(true)
	select {
	case <-h.done:
	case <-time.After(joinTimeout):
		log.Warn("Capture goroutine did not stop in time")
	}
	_ = h.stream.Close()
}
