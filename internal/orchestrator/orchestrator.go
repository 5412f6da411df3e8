// Package orchestrator runs the question/answer cycle: press to record,
// press again to capture a photo, ask the inference backends and speak the
// answer. It is the only writer of the control state and of the session.
package orchestrator

import (
	"context"
	"fmt"
	log "log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"rsbp/internal/audio"
	"rsbp/internal/button"
	"rsbp/internal/state"
)

type Recorder interface {
	Start() (*audio.Handle, error)
	Stop(h *audio.Handle) (string, error)
	Abort()
}

type Camera interface {
	Capture(ctx context.Context) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, imagePath, prompt string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

type Player interface {
	Play(ctx context.Context, path string, blocking bool) error
	Wait(timeout time.Duration) bool
}

// StatusSink is told about every state change. It must not block.
type StatusSink interface {
	SetState(s state.State)
}

// Cuer plays acknowledgement sounds. Optional.
type Cuer interface {
	RecordStart()
	RecordStop()
}

// StageError ties a cycle failure to the state it happened in.
type StageError struct {
	Stage state.State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Options struct {
	Debounce        time.Duration
	ErrorHold       time.Duration
	ShutdownTimeout time.Duration
	ResponsePrefix  string
}

type Deps struct {
	Recorder    Recorder
	Camera      Camera
	Transcriber Transcriber
	Analyzer    ImageAnalyzer
	Synthesizer Synthesizer
	Player      Player
	Status      StatusSink
	Cues        Cuer
}

type Orchestrator struct {
	deps Deps
	opt  Options
	now  func() time.Time

	// Owned by the Run goroutine.
	cur        state.State
	session    *state.Session
	handle     *audio.Handle
	recStarted time.Time
	idleSince  time.Time

	snapshot atomic.Value // state.State
	lastErr  atomic.Pointer[StageError]
}

func New(deps Deps, opt Options) *Orchestrator {
	o := &Orchestrator{
		deps: deps,
		opt:  opt,
		now:  time.Now,
		cur:  state.Idle,
	}
	o.idleSince = o.now()
	o.snapshot.Store(state.Idle)
	return o
}

// State returns the most recently entered state. Safe from any goroutine.
func (o *Orchestrator) State() state.State {
	return o.snapshot.Load().(state.State)
}

// LastError returns the most recent cycle failure, or nil.
func (o *Orchestrator) LastError() *StageError {
	return o.lastErr.Load()
}

// Run consumes presses until ctx is done, then releases the recorder and
// waits for background playback.
func (o *Orchestrator) Run(ctx context.Context, presses <-chan button.Press) {
	o.publish()
	log.Info("Orchestrator ready", "state", o.cur)

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case p := <-presses:
			o.handlePress(ctx, p)
		}
	}
}

func (o *Orchestrator) handlePress(ctx context.Context, p button.Press) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic in cycle", "stage", o.cur, "panic", r, "stack", string(debug.Stack()))
			switch o.cur {
			case state.Idle:
			case state.Error:
				o.transition(state.Idle)
				o.endSession()
			default:
				o.fail(ctx, o.cur, fmt.Errorf("panic: %v", r))
			}
		}
	}()

	switch {
	case o.cur.Busy():
		log.Debug("Press ignored while busy", "state", o.cur, "origin", p.Origin)

	case o.cur == state.Idle:
		if p.At.Before(o.idleSince) {
			log.Debug("Stale press dropped", "origin", p.Origin, "age", o.idleSince.Sub(p.At))
			return
		}
		o.startRecording(ctx)

	case o.cur == state.Recording:
		if p.At.Sub(o.recStarted) < o.opt.Debounce {
			log.Debug("Press inside debounce window dropped", "origin", p.Origin)
			return
		}
		o.runCycle(ctx)
	}
}

func (o *Orchestrator) startRecording(ctx context.Context) {
	o.session = state.NewSession(o.now())
	o.transition(state.Recording)

	h, err := o.deps.Recorder.Start()
	if err != nil {
		o.fail(ctx, state.Recording, err)
		return
	}
	o.handle = h
	o.recStarted = o.now()
	o.session.AudioPath = h.Path

	if o.deps.Cues != nil {
		o.deps.Cues.RecordStart()
	}
}

// runCycle drives one session from the second press to the spoken answer.
// Every failure ends in ERROR then IDLE.
func (o *Orchestrator) runCycle(ctx context.Context) {
	s := o.session

	h := o.handle
	o.handle = nil
	audioPath, err := o.deps.Recorder.Stop(h)
	if o.deps.Cues != nil {
		o.deps.Cues.RecordStop()
	}
	if err != nil {
		o.fail(ctx, state.Recording, err)
		return
	}
	s.AudioPath = audioPath

	o.transition(state.Capturing)
	if s.ImagePath, err = o.deps.Camera.Capture(ctx); err != nil {
		o.fail(ctx, state.Capturing, err)
		return
	}

	o.transition(state.Transcribing)
	if s.Transcript, err = o.deps.Transcriber.Transcribe(ctx, s.AudioPath); err != nil {
		o.fail(ctx, state.Transcribing, err)
		return
	}
	log.Info("Transcribed", "session", s.ID, "text", s.Transcript)

	o.transition(state.AnalyzingImage)
	if s.Description, err = o.deps.Analyzer.AnalyzeImage(ctx, s.ImagePath, s.Transcript); err != nil {
		o.fail(ctx, state.AnalyzingImage, err)
		return
	}
	log.Info("Image described", "session", s.ID, "text", s.Description)

	o.transition(state.Synthesizing)
	if s.ResponsePath, err = o.deps.Synthesizer.Synthesize(ctx, o.opt.ResponsePrefix+s.Description); err != nil {
		o.fail(ctx, state.Synthesizing, err)
		return
	}

	o.transition(state.Speaking)
	if err := o.deps.Player.Play(ctx, s.ResponsePath, true); err != nil {
		o.fail(ctx, state.Speaking, err)
		return
	}

	log.Info("Session complete", "session", s.ID, "duration", o.now().Sub(s.CreatedAt))
	o.transition(state.Idle)
	o.endSession()
}

// fail logs err against stage, shows ERROR for the hold time and returns
// to IDLE. Files already written are left on disk.
func (o *Orchestrator) fail(ctx context.Context, stage state.State, err error) {
	serr := &StageError{Stage: stage, Err: err}
	o.lastErr.Store(serr)

	var id string
	if o.session != nil {
		id = o.session.ID
	}
	log.Error("Cycle failed", "stage", stage, "session", id, "err", err)

	if o.handle != nil {
		o.deps.Recorder.Abort()
		o.handle = nil
	}

	o.transition(state.Error)
	if ctx.Err() == nil && o.opt.ErrorHold > 0 {
		t := time.NewTimer(o.opt.ErrorHold)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	o.transition(state.Idle)
	o.endSession()
}

func (o *Orchestrator) endSession() {
	o.session = nil
	o.idleSince = o.now()
}

func (o *Orchestrator) transition(to state.State) {
	from := o.cur
	if !state.CanTransition(from, to) {
		// Still applied: IDLE must remain reachable whatever went wrong.
		log.Error("Unexpected state transition", "from", from, "to", to)
	}
	o.cur = to
	o.publish()

	var id string
	if o.session != nil {
		id = o.session.ID
	}
	log.Info("State transition", "from", from, "to", to, "session", id)
}

// publish never lets a sink panic escape: the machine has to be able to
// reach IDLE even when a status display is broken.
func (o *Orchestrator) publish() {
	o.snapshot.Store(o.cur)
	if o.deps.Status == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Status sink panicked", "state", o.cur, "panic", r)
		}
	}()
	o.deps.Status.SetState(o.cur)
}

func (o *Orchestrator) shutdown() {
	log.Info("Orchestrator shutting down", "state", o.cur)

	if o.handle != nil {
		o.deps.Recorder.Abort()
		o.handle = nil
		o.transition(state.Idle)
		o.endSession()
	}

	if o.deps.Player != nil && !o.deps.Player.Wait(o.opt.ShutdownTimeout) {
		log.Warn("Playback still running at shutdown", "timeout", o.opt.ShutdownTimeout)
	}
}
