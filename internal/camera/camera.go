package camera

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rsbp/internal/config"
	"rsbp/internal/runner"
)

// processLimit bounds a single still capture including sensor warmup.
const processLimit = 5 * time.Second

// CaptureError reports a failed still capture.
type CaptureError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *CaptureError) Error() string {
	msg := "image capture failed"
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Camera takes stills through the rpicam command line tool.
type Camera struct {
	tool    string
	dir     string
	quality int
	warmup  time.Duration
	runner  runner.Runner
	now     func() time.Time
}

// New builds a camera from config. r may be nil for the real os/exec runner.
func New(cfg config.Config, r runner.Runner) *Camera {
	if r == nil {
		r = runner.Exec{}
	}
	return &Camera{
		tool:    cfg.CameraTool,
		dir:     cfg.ImagesDir,
		quality: cfg.CameraQuality,
		warmup:  cfg.CameraWarmup,
		runner:  r,
		now:     time.Now,
	}
}

// Capture takes one JPEG at the sensor's full resolution and returns its path.
func (c *Camera) Capture(ctx context.Context) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", &CaptureError{Err: err}
	}

	path := filepath.Join(c.dir, fmt.Sprintf("image_%s.jpg", c.now().Format("20060102_150405")))
	args := c.args(path)

	ctx, cancel := context.WithTimeout(ctx, processLimit+c.warmup)
	defer cancel()

	log.Debug("Capturing image", "tool", c.tool, "path", path)

	res, err := c.runner.Run(ctx, c.tool, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out: %w", ctx.Err())
		}
		return "", &CaptureError{Path: path, Stderr: strings.TrimSpace(res.Stderr), Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", &CaptureError{Path: path, Stderr: strings.TrimSpace(res.Stderr), Err: err}
	}
	if info.Size() == 0 {
		return "", &CaptureError{Path: path, Err: errors.New("empty image file")}
	}

	log.Info("Image captured", "path", path, "bytes", info.Size())
	return path, nil
}

func (c *Camera) args(path string) []string {
	return []string{
		"-o", path,
		"--timeout", strconv.FormatInt(c.warmup.Milliseconds(), 10),
		"--quality", strconv.Itoa(c.quality),
		"--nopreview",
	}
}
