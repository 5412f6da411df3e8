package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names for the pluggable pipeline stages.
const (
	BackendRemote  = "remote"
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
	BackendEspeak  = "espeak"
)

// Config is built once at startup and handed to every component constructor.
// Nothing mutates it after Load returns.
type Config struct {
	APIURL     string
	APITimeout time.Duration
	Proxy      string

	ButtonPin string
	Debounce  time.Duration

	AudioDevices  []string
	RecordingsDir string
	ImagesDir     string
	ResponsesDir  string

	CameraTool    string
	CameraQuality int
	CameraWarmup  time.Duration

	PlayerTool      string
	PlaybackTimeout time.Duration
	Volume          int

	LEDCount      int
	LEDBrightness int
	SPIPort       string

	ErrorHold       time.Duration
	ShutdownTimeout time.Duration
	ResponsePrefix  string

	LogFile    string
	IPCSocket  string
	MonitorURL string
	Shard      string
	Cues       bool
	CueDir     string

	STTBackend    string
	WhisperModel  string
	VisionBackend string
	OpenAIKey     string
	TTSBackend    string
	EspeakVoice   string
}

// Load reads the optional env file, then the process environment, and
// returns a validated Config. A missing env file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary key lookup.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}

	cfg := Config{
		APIURL:     strings.TrimRight(r.str("RSBP_API_URL", ""), "/"),
		APITimeout: r.dur("RSBP_API_TIMEOUT", 30*time.Second),
		Proxy:      r.str("RSBP_PROXY", ""),

		ButtonPin: r.str("RSBP_BUTTON_PIN", "GPIO17"),
		Debounce:  r.dur("RSBP_DEBOUNCE", 500*time.Millisecond),

		AudioDevices:  r.list("RSBP_AUDIO_DEVICE", []string{"seeed", "respeaker"}),
		RecordingsDir: r.str("RSBP_RECORDINGS_DIR", "/home/pi/recordings"),
		ImagesDir:     r.str("RSBP_IMAGES_DIR", "/home/pi/Pictures"),
		ResponsesDir:  r.str("RSBP_RESPONSES_DIR", "/tmp/rsbp"),

		CameraTool:    r.str("RSBP_CAMERA_TOOL", "rpicam-jpeg"),
		CameraQuality: r.int("RSBP_CAMERA_QUALITY", 90),
		CameraWarmup:  r.dur("RSBP_CAMERA_WARMUP", time.Second),

		PlayerTool:      r.str("RSBP_PLAYER_TOOL", "aplay"),
		PlaybackTimeout: r.dur("RSBP_PLAYBACK_TIMEOUT", 60*time.Second),
		Volume:          r.int("RSBP_VOLUME", 0),

		LEDCount:      r.int("RSBP_LED_COUNT", 3),
		LEDBrightness: r.int("RSBP_LED_BRIGHTNESS", 10),
		SPIPort:       r.str("RSBP_SPI_PORT", ""),

		ErrorHold:       r.dur("RSBP_ERROR_HOLD", 2*time.Second),
		ShutdownTimeout: r.dur("RSBP_SHUTDOWN_TIMEOUT", 5*time.Second),
		ResponsePrefix:  r.raw("RSBP_RESPONSE_PREFIX", "Based on your question and the image analysis: "),

		LogFile:    strings.TrimSpace(r.raw("RSBP_LOG_FILE", "/var/log/rsbp.log")),
		IPCSocket:  r.str("RSBP_IPC_SOCKET", "/tmp/rsbp.sock"),
		MonitorURL: r.str("RSBP_MONITOR_URL", ""),
		Shard:      r.str("RSBP_SHARD", "RSBP"),
		Cues:       r.bool("RSBP_CUES", false),
		CueDir:     r.str("RSBP_CUE_DIR", ""),

		STTBackend:    strings.ToLower(r.str("RSBP_STT_BACKEND", BackendRemote)),
		WhisperModel:  r.str("RSBP_WHISPER_MODEL", ""),
		VisionBackend: strings.ToLower(r.str("RSBP_VISION_BACKEND", BackendRemote)),
		OpenAIKey:     r.str("OPENAI_API_KEY", ""),
		TTSBackend:    strings.ToLower(r.str("RSBP_TTS_BACKEND", BackendRemote)),
		EspeakVoice:   r.str("RSBP_ESPEAK_VOICE", "en"),
	}

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	if c.APIURL == "" {
		errs = append(errs, errors.New("RSBP_API_URL is required"))
	} else if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("RSBP_API_URL is not an absolute url: %q", c.APIURL))
	}
	if c.APITimeout <= 0 {
		errs = append(errs, errors.New("RSBP_API_TIMEOUT must be positive"))
	}
	if c.Debounce <= 0 {
		errs = append(errs, errors.New("RSBP_DEBOUNCE must be positive"))
	}
	if c.CameraQuality < 1 || c.CameraQuality > 100 {
		errs = append(errs, fmt.Errorf("RSBP_CAMERA_QUALITY out of range: %d", c.CameraQuality))
	}
	if c.LEDCount < 1 {
		errs = append(errs, fmt.Errorf("RSBP_LED_COUNT must be at least 1: %d", c.LEDCount))
	}
	if c.LEDBrightness < 0 || c.LEDBrightness > 31 {
		errs = append(errs, fmt.Errorf("RSBP_LED_BRIGHTNESS out of range 0..31: %d", c.LEDBrightness))
	}
	if c.Volume < 0 || c.Volume > 150 {
		errs = append(errs, fmt.Errorf("RSBP_VOLUME out of range 0..150: %d", c.Volume))
	}

	switch c.STTBackend {
	case BackendRemote:
	case BackendWhisper:
		if c.WhisperModel == "" {
			errs = append(errs, errors.New("RSBP_WHISPER_MODEL is required for whisper backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RSBP_STT_BACKEND: %q", c.STTBackend))
	}

	switch c.VisionBackend {
	case BackendRemote:
	case BackendOpenAI:
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RSBP_VISION_BACKEND: %q", c.VisionBackend))
	}

	switch c.TTSBackend {
	case BackendRemote, BackendEspeak:
	default:
		errs = append(errs, fmt.Errorf("unknown RSBP_TTS_BACKEND: %q", c.TTSBackend))
	}

	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return v
}

func (r *reader) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func (r *reader) list(key string, def []string) []string {
	v := r.str(key, "")
	if v == "" {
		return def
	}

	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) dur(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
