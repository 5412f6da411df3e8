package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// TestDefaults verifies the values used when only the endpoint is set.
func TestDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"RSBP_API_URL": "http://example.test/pvlm-api/",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.APIURL != "http://example.test/pvlm-api" {
		t.Fatalf("APIURL = %q, trailing slash should be trimmed", cfg.APIURL)
	}
	if cfg.APITimeout != 30*time.Second {
		t.Fatalf("APITimeout = %v, want 30s", cfg.APITimeout)
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Fatalf("Debounce = %v, want 500ms", cfg.Debounce)
	}
	if cfg.ButtonPin != "GPIO17" {
		t.Fatalf("ButtonPin = %q, want GPIO17", cfg.ButtonPin)
	}
	if cfg.LEDCount != 3 {
		t.Fatalf("LEDCount = %d, want 3", cfg.LEDCount)
	}
	if len(cfg.AudioDevices) != 2 || cfg.AudioDevices[0] != "seeed" {
		t.Fatalf("AudioDevices = %v", cfg.AudioDevices)
	}
	if cfg.STTBackend != BackendRemote || cfg.VisionBackend != BackendRemote || cfg.TTSBackend != BackendRemote {
		t.Fatalf("backends = %s/%s/%s, want remote", cfg.STTBackend, cfg.VisionBackend, cfg.TTSBackend)
	}
	if !strings.HasPrefix(cfg.ResponsePrefix, "Based on your question") {
		t.Fatalf("ResponsePrefix = %q", cfg.ResponsePrefix)
	}
}

// TestLogFileDisabled verifies an explicitly empty log file turns file
// logging off while an unset one keeps the default.
func TestLogFileDisabled(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"RSBP_API_URL":  "http://example.test",
		"RSBP_LOG_FILE": "",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFile != "" {
		t.Fatalf("LogFile = %q, want empty", cfg.LogFile)
	}

	cfg, err = FromLookup(lookupFrom(map[string]string{
		"RSBP_API_URL": "http://example.test",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFile != "/var/log/rsbp.log" {
		t.Fatalf("LogFile = %q, want default", cfg.LogFile)
	}
}

// TestMissingEndpoint checks that the base url is never defaulted.
func TestMissingEndpoint(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{}))
	if err == nil || !strings.Contains(err.Error(), "RSBP_API_URL") {
		t.Fatalf("err = %v, want RSBP_API_URL error", err)
	}
}

// TestInvalidValues verifies parse and range errors are reported together.
func TestInvalidValues(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"RSBP_API_URL":        "http://example.test",
		"RSBP_API_TIMEOUT":    "soon",
		"RSBP_LED_BRIGHTNESS": "40",
		"RSBP_STT_BACKEND":    "carrier-pigeon",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"RSBP_API_TIMEOUT", "RSBP_LED_BRIGHTNESS", "RSBP_STT_BACKEND"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

// TestBackendRequirements checks backend specific keys.
func TestBackendRequirements(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"whisper without model", map[string]string{"RSBP_STT_BACKEND": "whisper"}, "RSBP_WHISPER_MODEL"},
		{"openai without key", map[string]string{"RSBP_VISION_BACKEND": "OpenAI"}, "OPENAI_API_KEY"},
		{"unknown tts", map[string]string{"RSBP_TTS_BACKEND": "festival"}, "RSBP_TTS_BACKEND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.env["RSBP_API_URL"] = "http://example.test"
			_, err := FromLookup(lookupFrom(tc.env))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

// TestLoadEnvFile verifies values from the env file reach the Config.
func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsbp.env")
	data := "RSBP_API_URL=http://10.0.0.5/api\nRSBP_ERROR_HOLD=750ms\nRSBP_AUDIO_DEVICE=USB Mic, ReSpeaker\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"RSBP_API_URL", "RSBP_ERROR_HOLD", "RSBP_AUDIO_DEVICE"} {
		if _, ok := os.LookupEnv(k); ok {
			t.Skipf("%s set in the environment", k)
		}
	}
	t.Cleanup(func() {
		os.Unsetenv("RSBP_API_URL")
		os.Unsetenv("RSBP_ERROR_HOLD")
		os.Unsetenv("RSBP_AUDIO_DEVICE")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://10.0.0.5/api" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.ErrorHold != 750*time.Millisecond {
		t.Fatalf("ErrorHold = %v", cfg.ErrorHold)
	}
	if len(cfg.AudioDevices) != 2 || cfg.AudioDevices[0] != "usb mic" || cfg.AudioDevices[1] != "respeaker" {
		t.Fatalf("AudioDevices = %v", cfg.AudioDevices)
	}
}
