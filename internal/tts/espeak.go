// Package tts synthesizes answers locally with espeak-ng when the remote
// speech endpoint is not used.
package tts

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rsbp/internal/runner"
)

const espeakTool = "espeak-ng"

type Espeak struct {
	voice  string
	outDir string
	runner runner.Runner
	now    func() time.Time
}

// NewEspeak returns a synthesizer writing response_<ts>.wav files into
// outDir. r may be nil for os/exec.
func NewEspeak(voice, outDir string, r runner.Runner) *Espeak {
	if r == nil {
		r = runner.Exec{}
	}
	return &Espeak{voice: voice, outDir: outDir, runner: r, now: time.Now}
}

func (e *Espeak) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: nothing to say", espeakTool)
	}

	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create responses dir: %w", err)
	}
	out := filepath.Join(e.outDir, fmt.Sprintf("response_%s.wav", e.now().Format("20060102_150405")))

	args := []string{"-w", out}
	if e.voice != "" {
		args = append(args, "-v", e.voice)
	}
	// "--" keeps text starting with '-' from being read as a flag.
	args = append(args, "--", text)

	res, err := e.runner.Run(ctx, espeakTool, args...)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", espeakTool, err, strings.TrimSpace(res.Stderr))
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%s produced no audio at %s", espeakTool, out)
	}

	log.Info("Local synthesis finished", "voice", e.voice, "path", out)
	return out, nil
}
