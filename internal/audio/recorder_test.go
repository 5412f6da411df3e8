package audio

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// clockSource delivers frames in real time, like a sound card would.
type clockSource struct {
	mu      sync.Mutex
	failAt  int // fail the n-th read (1-based); 0 never fails
	openErr error
	opened  int
}

func (s *clockSource) Name() string { return "fake" }

func (s *clockSource) Open(frameSize int) (InputStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened++
	return &clockStream{start: time.Now(), failAt: s.failAt, closed: make(chan struct{})}, nil
}

type clockStream struct {
	start  time.Time
	n      int
	failAt int
	once   sync.Once
	closed chan struct{}
}

func (c *clockStream) Read(frame []int16) error {
	c.n++
	if c.failAt > 0 && c.n >= c.failAt {
		return errors.New("device unplugged")
	}
	ready := c.start.Add(time.Duration(c.n) * FrameDuration)
	select {
	case <-time.After(time.Until(ready)):
	case <-c.closed:
		return errors.New("stream closed")
	}
	for i := range frame {
		frame[i] = int16(i % 64)
	}
	return nil
}

func (c *clockStream) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func newTestRecorder(t *testing.T, src InputSource) *Recorder {
	t.Helper()
	return NewRecorder(src, filepath.Join(t.TempDir(), "recordings"))
}

// TestRecordDurationCoversElapsed verifies the file is at least as long as
// the time between Start and Stop, within one frame.
func TestRecordDurationCoversElapsed(t *testing.T) {
	rec := newTestRecorder(t, &clockSource{})

	begin := time.Now()
	h, err := rec.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	elapsed := time.Since(begin)

	path, err := rec.Stop(h)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	info, err := ReadWAVInfo(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if info.SampleRate != SampleRate || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("format = %+v, want 16 kHz mono 16-bit", info)
	}
	if info.Duration < elapsed-FrameDuration {
		t.Fatalf("duration %v shorter than elapsed %v minus one frame", info.Duration, elapsed)
	}
}

// TestStartIsNonBlocking checks Start returns before any frame is ready.
func TestStartIsNonBlocking(t *testing.T) {
	rec := newTestRecorder(t, &clockSource{})

	begin := time.Now()
	h, err := rec.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if d := time.Since(begin); d >= FrameDuration {
		t.Fatalf("Start blocked for %v", d)
	}
	rec.Abort()
	if isActive(rec) {
		t.Fatal("recorder should be idle after abort")
	}
	_ = h
}

// TestDoubleStartRejected verifies only one capture can be live.
func TestDoubleStartRejected(t *testing.T) {
	src := &clockSource{}
	rec := newTestRecorder(t, src)

	h, err := rec.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rec.Stop(h)

	if _, err := rec.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second start err = %v, want ErrAlreadyRecording", err)
	}
	if src.opened != 1 {
		t.Fatalf("device opened %d times, want 1", src.opened)
	}
}

// TestStopTooShort verifies a capture below MinFrames is a RecordingError.
func TestStopTooShort(t *testing.T) {
	rec := newTestRecorder(t, &clockSource{})

	h, err := rec.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	path, err := rec.Stop(h)

	var re *RecordingError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v (path %q), want RecordingError", err, path)
	}
	if _, statErr := os.Stat(h.Path); statErr == nil {
		t.Fatal("no file should be written for a rejected capture")
	}
}

// TestDeviceDetach verifies a read failure surfaces from Stop.
func TestDeviceDetach(t *testing.T) {
	rec := newTestRecorder(t, &clockSource{failAt: 3})

	h, err := rec.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(3 * FrameDuration)

	_, err = rec.Stop(h)
	var re *RecordingError
	if !errors.As(err, &re) || re.Err == nil {
		t.Fatalf("err = %v, want RecordingError wrapping the device error", err)
	}

	// The recorder must be reusable afterwards.
	if isActive(rec) {
		t.Fatal("recorder still marked active")
	}
}

// TestOpenFailure verifies Start reports device open errors.
func TestOpenFailure(t *testing.T) {
	rec := newTestRecorder(t, &clockSource{openErr: errors.New("busy")})

	if _, err := rec.Start(); err == nil {
		t.Fatal("expected error")
	}
	if isActive(rec) {
		t.Fatal("failed start must not leave an active handle")
	}
}

// TestStopUnknownHandle verifies Stop rejects a handle it does not own.
func TestStopUnknownHandle(t *testing.T) {
	rec := newTestRecorder(t, &clockSource{})
	if _, err := rec.Stop(&Handle{done: make(chan struct{})}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMatchesName(t *testing.T) {
	prefer := []string{"seeed", "respeaker"}
	if !matchesName("seeed-2mic-voicecard: bcm2835-i2s-wm8960-hifi", prefer) {
		t.Fatal("seeed card should match")
	}
	if matchesName("USB PnP Sound Device", prefer) {
		t.Fatal("usb card should not match")
	}
}

func isActive(r *Recorder) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}
