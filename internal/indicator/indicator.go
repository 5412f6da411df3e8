// Package indicator renders the control state on a short LED strip. The
// animation runs on its own ticker; callers only hand over the new state.
package indicator

import (
	"context"
	log "log/slog"
	"time"

	"rsbp/internal/state"
)

const (
	frameInterval = 50 * time.Millisecond
	rotatePeriod  = 150 * time.Millisecond
	pulsePeriod   = 1200 * time.Millisecond
	blinkPeriod   = 500 * time.Millisecond
)

type Color struct {
	R, G, B uint8
}

var (
	Off    = Color{}
	Green  = Color{0, 255, 0}
	Red    = Color{255, 0, 0}
	Yellow = Color{255, 180, 0}
	Cyan   = Color{0, 255, 255}
	Purple = Color{160, 0, 255}
	White  = Color{255, 255, 255}
	Blue   = Color{0, 0, 255}
)

func (c Color) scale(f float64) Color {
	return Color{uint8(float64(c.R) * f), uint8(float64(c.G) * f), uint8(float64(c.B) * f)}
}

// Strip is an addressable LED output.
type Strip interface {
	Show(pixels []Color) error
	Close() error
}

// Sink receives state changes. SetState must not block.
type Sink interface {
	SetState(s state.State)
}

type tee []Sink

func (t tee) SetState(s state.State) {
	for _, sink := range t {
		sink.SetState(s)
	}
}

// Tee fans one state change out to every non-nil sink.
func Tee(sinks ...Sink) Sink {
	var t tee
	for _, s := range sinks {
		if s != nil {
			t = append(t, s)
		}
	}
	return t
}

// Frame renders state s at elapsed time since it was entered onto n LEDs.
func Frame(s state.State, elapsed time.Duration, n int) []Color {
	px := make([]Color, n)
	if n == 0 {
		return px
	}

	switch s {
	case state.Idle:
		fill(px, Green)
	case state.Recording:
		fill(px, Red)
	case state.Capturing:
		fill(px, Yellow)
	case state.Transcribing:
		rotate(px, Cyan, elapsed)
	case state.AnalyzingImage:
		rotate(px, Purple, elapsed)
	case state.Synthesizing:
		rotate(px, White, elapsed)
	case state.Speaking:
		// Triangle wave between 10% and 100%.
		phase := float64(elapsed%pulsePeriod) / float64(pulsePeriod)
		level := 1 - 2*phase
		if level < 0 {
			level = -level
		}
		fill(px, Blue.scale(0.1+0.9*(1-level)))
	case state.Error:
		if elapsed%blinkPeriod < blinkPeriod/2 {
			fill(px, Red)
		}
	}
	return px
}

func fill(px []Color, c Color) {
	for i := range px {
		px[i] = c
	}
}

func rotate(px []Color, c Color, elapsed time.Duration) {
	px[int(elapsed/rotatePeriod)%len(px)] = c
}

// Indicator owns the animation loop for one strip.
type Indicator struct {
	strip Strip
	n     int

	mailbox chan state.State
	now     func() time.Time
}

func New(strip Strip, n int) *Indicator {
	return &Indicator{
		strip:   strip,
		n:       n,
		mailbox: make(chan state.State, 1),
		now:     time.Now,
	}
}

// SetState hands over a new state. Only the most recent one is kept if the
// loop has not picked up the previous one yet.
func (i *Indicator) SetState(s state.State) {
	for {
		select {
		case i.mailbox <- s:
			return
		default:
		}
		select {
		case <-i.mailbox:
		default:
		}
	}
}

// Run animates until ctx is done, then blanks and closes the strip.
func (i *Indicator) Run(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	defer func() {
		if err := i.strip.Show(make([]Color, i.n)); err != nil {
			log.Warn("Failed to clear LEDs", "err", err)
		}
		if err := i.strip.Close(); err != nil {
			log.Warn("Failed to close LED strip", "err", err)
		}
	}()

	cur := state.Idle
	since := i.now()
	failing := false

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-i.mailbox:
			if s != cur {
				cur, since = s, i.now()
			}
		case <-ticker.C:
		}

		if err := i.strip.Show(Frame(cur, i.now().Sub(since), i.n)); err != nil {
			if !failing {
				log.Warn("LED update failed", "err", err)
				failing = true
			}
			continue
		}
		failing = false
	}
}

// NopStrip discards frames. Used when no LED hardware is present.
type NopStrip struct{}

func (NopStrip) Show([]Color) error { return nil }
func (NopStrip) Close() error       { return nil }
