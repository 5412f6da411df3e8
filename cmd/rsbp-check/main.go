// rsbp-check exercises each piece of hardware the daemon depends on and
// reports what it found.
package main

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"rsbp/internal/audio"
	"rsbp/internal/button"
	"rsbp/internal/camera"
	"rsbp/internal/config"
	"rsbp/internal/indicator"
	"rsbp/internal/logging"
	"rsbp/internal/playback"
	"rsbp/internal/state"
)

type check struct {
	name string
	run  func(ctx context.Context, cfg config.Config) error
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	buttonWait := cli.Duration("button", 0, "Wait this long for a button press (0 skips the check)")
	skipCamera := cli.Bool("no-camera", false, "Skip the test photo")
	cli.Parse()

	logging.Setup(logging.ParseLevel(*logLevel), "")

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	checks := []check{
		{"audio devices", checkDevices},
		{"speaker volume", checkVolume},
		{"playback", checkPlayback},
		{"leds", checkLEDs},
	}
	if !*skipCamera {
		checks = append(checks, check{"camera", checkCamera})
	}
	if *buttonWait > 0 {
		wait := *buttonWait
		checks = append(checks, check{"button", func(ctx context.Context, cfg config.Config) error {
			return checkButton(ctx, cfg, wait)
		}})
	}

	failed := 0
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.run(ctx, cfg)
		cancel()

		if err != nil {
			failed++
			fmt.Printf("[FAIL] %-15s %v\n", c.name, err)
			continue
		}
		fmt.Printf("[ OK ] %s\n", c.name)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func checkDevices(_ context.Context, cfg config.Config) error {
	devs, err := audio.ListDevices()
	if err != nil {
		return err
	}

	inputs := 0
	for _, d := range devs {
		fmt.Printf("       %-40s in=%d out=%d rate=%.0f host=%s\n", d.Name, d.InputChannels, d.OutputChannels, d.SampleRate, d.HostAPI)
		if d.InputChannels > 0 {
			inputs++
		}
	}
	if inputs == 0 {
		return fmt.Errorf("no input devices")
	}

	src, err := audio.OpenPortAudioSource(cfg.AudioDevices)
	if err != nil {
		return err
	}
	defer src.Close()
	fmt.Printf("       selected input: %s\n", src.Name())
	return nil
}

func checkVolume(ctx context.Context, _ config.Config) error {
	v, err := audio.NewMixer(nil).Volume(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("       speaker volume: %d%%\n", v)
	return nil
}

func checkPlayback(_ context.Context, cfg config.Config) error {
	if playback.Probe(cfg.PlayerTool) {
		fmt.Printf("       %s found, command playback will be used\n", cfg.PlayerTool)
	} else {
		fmt.Printf("       %s not found, direct device playback will be used\n", cfg.PlayerTool)
	}
	return nil
}

func checkLEDs(ctx context.Context, cfg config.Config) error {
	strip, err := indicator.OpenAPA102(cfg.SPIPort, cfg.LEDCount, cfg.LEDBrightness)
	if err != nil {
		return err
	}

	ind := indicator.New(strip, cfg.LEDCount)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ind.Run(runCtx)
		close(done)
	}()

	for _, s := range state.All {
		fmt.Printf("       showing %s\n", s)
		ind.SetState(s)
		time.Sleep(time.Second)
	}

	cancel()
	<-done
	return nil
}

func checkCamera(ctx context.Context, cfg config.Config) error {
	path, err := camera.New(cfg, nil).Capture(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("       test photo: %s\n", path)
	return nil
}

func checkButton(ctx context.Context, cfg config.Config, wait time.Duration) error {
	src := button.Open(cfg.ButtonPin, cfg.Debounce)
	if !src.Enabled() {
		return fmt.Errorf("gpio %s unavailable", cfg.ButtonPin)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	presses := make(chan button.Press, 1)
	go src.Run(ctx, presses)

	fmt.Printf("       press the button within %s\n", wait)
	select {
	case p := <-presses:
		log.Debug("Press received", "at", p.At)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no press within %s", wait)
	}
}
