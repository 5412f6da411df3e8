package logging

import (
	"io"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

var levelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// ParseLevel maps a flag value to a slog level, defaulting to info.
func ParseLevel(s string) log.Level {
	if lvl, ok := levelMap[strings.ToLower(s)]; ok {
		return lvl
	}
	return log.LevelInfo
}

// Setup installs the default logger: colored console output plus, when
// file is set, an append-only rotating log file. The returned closer
// flushes and closes the file.
func Setup(level log.Level, file string) (*log.Logger, io.Closer) {
	console := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})

	if file == "" {
		logger := log.New(console)
		log.SetDefault(logger)
		return logger, nopCloser{}
	}

	sink := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}

	persistent := tint.NewHandler(sink, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    true,
	})

	logger := log.New(slogmulti.Fanout(console, persistent))
	log.SetDefault(logger)

	return logger, sink
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
