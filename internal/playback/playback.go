// Package playback plays synthesized answers. A command-line player is
// preferred; a direct PortAudio writer takes over when that tool is absent.
package playback

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os/exec"
	"sync"
	"time"

	"rsbp/internal/audio"
	"rsbp/internal/config"
	"rsbp/internal/runner"
	"rsbp/pkg/audioconv"
)

// ErrNotLaunched marks a strategy that could not even start.
var ErrNotLaunched = errors.New("player could not be launched")

// PlaybackError means no strategy managed to play the file.
type PlaybackError struct {
	Path string
	Err  error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s: %v", e.Path, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Strategy is one way of getting a file to the speaker.
type Strategy interface {
	Name() string
	Play(ctx context.Context, path string) error
}

// Probe reports whether tool is on PATH.
func Probe(tool string) bool {
	if tool == "" {
		return false
	}
	_, err := exec.LookPath(tool)
	return err == nil
}

// Select picks the strategy to use for the process lifetime.
func Select(primaryAvailable bool, primary, fallback Strategy) Strategy {
	if primaryAvailable {
		return primary
	}
	return fallback
}

// CommandStrategy runs an external player such as aplay.
type CommandStrategy struct {
	Tool    string
	Runner  runner.Runner
	Timeout time.Duration
}

func (c *CommandStrategy) Name() string { return c.Tool }

func (c *CommandStrategy) Play(ctx context.Context, path string) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	res, err := c.Runner.Run(ctx, c.Tool, "-q", path)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", c.Tool, ctx.Err())
	}
	if !res.Launched() {
		return fmt.Errorf("%s: %w: %v", c.Tool, ErrNotLaunched, err)
	}
	return fmt.Errorf("%s exited %d: %s", c.Tool, res.ExitCode, res.Stderr)
}

// DeviceStrategy decodes the file itself and writes PCM to the default
// output device.
type DeviceStrategy struct {
	Open func(sampleRate, frameSize int) (audio.OutputStream, error)
}

func (d *DeviceStrategy) Name() string { return "portaudio" }

func (d *DeviceStrategy) Play(ctx context.Context, path string) error {
	x, err := audioconv.DecodeFile(ctx, path, audioconv.Options{})
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	open := d.Open
	if open == nil {
		open = audio.OpenOutput
	}
	out, err := open(audioconv.TargetRate, audio.FrameSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotLaunched, err)
	}
	defer out.Close()

	// Quarter-second chunks so cancellation is noticed promptly.
	const chunk = audioconv.TargetRate / 4
	for off := 0; off < len(x); off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+chunk, len(x))
		if err := out.Write(x[off:end]); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}

// Player wraps the selected strategy and tracks background playbacks.
type Player struct {
	selected Strategy
	fallback Strategy

	wg sync.WaitGroup
}

// New probes cfg.PlayerTool once and builds a Player.
func New(cfg config.Config, r runner.Runner) *Player {
	if r == nil {
		r = runner.Exec{}
	}
	primary := &CommandStrategy{Tool: cfg.PlayerTool, Runner: r, Timeout: cfg.PlaybackTimeout}
	fallback := &DeviceStrategy{}
	return NewPlayer(Probe(cfg.PlayerTool), primary, fallback)
}

func NewPlayer(primaryAvailable bool, primary, fallback Strategy) *Player {
	p := &Player{selected: Select(primaryAvailable, primary, fallback)}
	if p.selected == primary {
		p.fallback = fallback
	}
	log.Info("Playback strategy selected", "strategy", p.selected.Name())
	return p
}

// Strategy returns the strategy chosen at construction.
func (p *Player) Strategy() Strategy { return p.selected }

// Play plays path. With blocking=false it returns immediately and failures
// are only logged.
func (p *Player) Play(ctx context.Context, path string, blocking bool) error {
	if blocking {
		return p.play(ctx, path)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.play(ctx, path); err != nil {
			log.Error("Background playback failed", "path", path, "err", err)
		}
	}()
	return nil
}

func (p *Player) play(ctx context.Context, path string) error {
	start := time.Now()
	err := p.selected.Play(ctx, path)
	if err != nil && p.fallback != nil && errors.Is(err, ErrNotLaunched) {
		log.Warn("Primary player unavailable, using fallback", "primary", p.selected.Name(), "fallback", p.fallback.Name(), "err", err)
		if ferr := p.fallback.Play(ctx, path); ferr != nil {
			err = errors.Join(err, ferr)
		} else {
			err = nil
		}
	}
	if err != nil {
		return &PlaybackError{Path: path, Err: err}
	}

	log.Debug("Playback finished", "path", path, "duration", time.Since(start))
	return nil
}

// Wait joins background playbacks, giving up after timeout. It reports
// whether everything finished.
func (p *Player) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
