package main

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"rsbp/internal/audio"
	"rsbp/internal/button"
	"rsbp/internal/camera"
	"rsbp/internal/config"
	"rsbp/internal/indicator"
	"rsbp/internal/ipc"
	"rsbp/internal/logging"
	"rsbp/internal/monitor"
	"rsbp/internal/notify"
	"rsbp/internal/orchestrator"
	"rsbp/internal/playback"
	"rsbp/internal/proxy"
	"rsbp/internal/remote"
	"rsbp/internal/tts"
	"rsbp/internal/vision"
	"rsbp/pkg/stt"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	level := logging.ParseLevel(*logLevel)
	logging.Setup(level, "")

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	_, logFile := logging.Setup(level, cfg.LogFile)
	defer logFile.Close()

	log.Info("Booting up", "api", cfg.APIURL, "stt", cfg.STTBackend, "vision", cfg.VisionBackend, "tts", cfg.TTSBackend)

	if err := run(cfg); err != nil {
		log.Error("Fatal", "err", err)
		logFile.Close()
		os.Exit(1)
	}

	log.Info("Shut down cleanly")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient, err := proxy.NewHTTPClient(cfg.Proxy)
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}

	client, err := remote.New(cfg, httpClient)
	if err != nil {
		return err
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()

	deps := orchestrator.Deps{
		Camera:      camera.New(cfg, nil),
		Transcriber: client,
		Analyzer:    client,
		Synthesizer: client,
	}

	if cfg.STTBackend == config.BackendWhisper {
		w, err := stt.NewTranscriber(cfg.WhisperModel, stt.Options{Language: "auto"})
		if err != nil {
			return fmt.Errorf("whisper: %w", err)
		}
		closers = append(closers, w)
		deps.Transcriber = w
	}
	if cfg.VisionBackend == config.BackendOpenAI {
		deps.Analyzer = vision.New(cfg.OpenAIKey, httpClient, cfg.APITimeout)
	}
	if cfg.TTSBackend == config.BackendEspeak {
		deps.Synthesizer = tts.NewEspeak(cfg.EspeakVoice, cfg.ResponsesDir, nil)
	}

	src, err := audio.OpenPortAudioSource(cfg.AudioDevices)
	if err != nil {
		return fmt.Errorf("audio input: %w", err)
	}
	closers = append(closers, src)
	log.Info("Audio capture ready", "device", src.Name())

	rec := audio.NewRecorder(src, cfg.RecordingsDir)
	deps.Recorder = rec

	player := playback.New(cfg, nil)
	deps.Player = player

	if cfg.Volume > 0 {
		if err := audio.NewMixer(nil).SetVolume(ctx, cfg.Volume); err != nil {
			log.Warn("Failed to set speaker volume", "volume", cfg.Volume, "err", err)
		}
	}

	var strip indicator.Strip = indicator.NopStrip{}
	if s, err := indicator.OpenAPA102(cfg.SPIPort, cfg.LEDCount, cfg.LEDBrightness); err != nil {
		log.Warn("LED strip unavailable, running without status lights", "err", err)
	} else {
		strip = s
	}
	ind := indicator.New(strip, cfg.LEDCount)

	presses := make(chan button.Press, 1)
	sinks := []indicator.Sink{ind}

	if cfg.MonitorURL != "" {
		mon := monitor.New(cfg.MonitorURL, cfg.Shard, presses)
		sinks = append(sinks, mon)
		go mon.Run(ctx)
	}
	deps.Status = indicator.Tee(sinks...)

	if cfg.Cues {
		if cues, err := notify.New(cfg.CueDir); err != nil {
			log.Warn("Audio cues unavailable", "err", err)
		} else {
			deps.Cues = cues
		}
	}

	// The indicator outlives the orchestrator so the final state is drawn
	// before the strip is blanked.
	indCtx, indCancel := context.WithCancel(context.Background())
	indDone := make(chan struct{})
	go func() {
		ind.Run(indCtx)
		close(indDone)
	}()

	btn := button.Open(cfg.ButtonPin, cfg.Debounce)
	go btn.Run(ctx, presses)

	orch := orchestrator.New(deps, orchestrator.Options{
		Debounce:        cfg.Debounce,
		ErrorHold:       cfg.ErrorHold,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ResponsePrefix:  cfg.ResponsePrefix,
	})

	started := time.Now()
	if err := ipc.StartServer(ctx, cfg.IPCSocket, func(req ipc.Request) ipc.Response {
		switch req.Cmd {
		case ipc.CmdPress:
			select {
			case presses <- button.Press{At: time.Now(), Origin: "ctl"}:
				return ipc.Response{OK: true, State: orch.State().String()}
			default:
				return ipc.Response{Error: "busy"}
			}
		case ipc.CmdStatus:
			resp := ipc.Response{
				OK:     true,
				State:  orch.State().String(),
				Uptime: time.Since(started).Round(time.Second).String(),
			}
			if serr := orch.LastError(); serr != nil {
				resp.LastError = serr.Error()
			}
			return resp
		case ipc.CmdShutdown:
			log.Info("Shutdown requested over control socket")
			stop()
			return ipc.Response{OK: true}
		default:
			return ipc.Response{Error: "unknown command: " + req.Cmd}
		}
	}); err != nil {
		log.Warn("Control socket unavailable", "path", cfg.IPCSocket, "err", err)
	}

	log.Info("Boot up - successful", "button", btn.Enabled(), "playback", player.Strategy().Name())

	orch.Run(ctx, presses)

	indCancel()
	select {
	case <-indDone:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("Indicator did not stop in time")
	}

	return nil
}
