package audio

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"rsbp/internal/runner"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// Mixer controls the default output sink volume through pactl.
type Mixer struct {
	runner runner.Runner
}

// NewMixer returns a pactl backed mixer. r may be nil for os/exec.
func NewMixer(r runner.Runner) *Mixer {
	if r == nil {
		r = runner.Exec{}
	}
	return &Mixer{runner: r}
}

// Volume reports the default sink volume in percent (first channel).
func (m *Mixer) Volume(ctx context.Context) (int, error) {
	res, err := m.runner.Run(ctx, "pactl", "get-sink-volume", "@DEFAULT_SINK@")
	if err != nil {
		return 0, fmt.Errorf("pactl get-sink-volume: %w", err)
	}

	match := percentRe.FindStringSubmatch(res.Stdout)
	if len(match) < 2 {
		return 0, errors.New("pactl get-sink-volume: no percentage in output")
	}

	return strconv.Atoi(match[1])
}

// SetVolume sets the default sink volume, clamped to 0..150 percent.
func (m *Mixer) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > maxVolume {
		percent = maxVolume
	}

	arg := fmt.Sprintf("%d%%", percent)
	if _, err := m.runner.Run(ctx, "pactl", "set-sink-volume", "@DEFAULT_SINK@", arg); err != nil {
		return fmt.Errorf("pactl set-sink-volume %s: %w", arg, err)
	}

	return nil
}
