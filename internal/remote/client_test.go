package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rsbp/internal/audio"
	"rsbp/internal/config"
)

func testClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(config.Config{
		APIURL:       url,
		APITimeout:   timeout,
		ResponsesDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func sampleWAV(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16((i % 40) * 500)
	}
	if err := audio.WriteWAV(path, samples, audio.SampleRate); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func tempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestTranscribeSendsMultipartFile verifies the recording is uploaded under
// the "file" field and the transcript is read from JSON.
func TestTranscribeSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcribe" {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Close()
		if hdr.Filename != "audio.wav" {
			http.Error(w, "bad filename "+hdr.Filename, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcription": "  what is this  "}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL+"/v1", time.Second)
	text, err := c.Transcribe(context.Background(), tempFile(t, "audio.wav", sampleWAV(t)))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what is this" {
		t.Fatalf("text = %q", text)
	}
}

// TestAnalyzeImageSendsQuestion verifies the optional prompt is forwarded
// alongside the image and plain-text replies are accepted.
func TestAnalyzeImageSendsQuestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("a red mug, asked: " + r.FormValue("question")))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, time.Second)
	desc, err := c.AnalyzeImage(context.Background(), tempFile(t, "image.jpg", []byte{0xff, 0xd8, 0xff, 0xd9}), "what colour")
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if desc != "a red mug, asked: what colour" {
		t.Fatalf("desc = %q", desc)
	}
}

// TestSynthesizeNormalizesEncodings verifies raw bytes, inline base64 and a
// secondary audio URL all produce the same playable file.
func TestSynthesizeNormalizesEncodings(t *testing.T) {
	wavData := sampleWAV(t)
	encoded := base64.StdEncoding.EncodeToString(wavData)

	handlers := map[string]http.HandlerFunc{
		"binary": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "audio/wav")
			w.Write(wavData)
		},
		"base64": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"audio_base64": "` + encoded + `"}`))
		},
		"data-url": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"audio": "data:audio/wav;base64,` + encoded + `"}`))
		},
		"url": func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && r.URL.Path == "/files/reply.wav" {
				w.Header().Set("Content-Type", "audio/wav")
				w.Write(wavData)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"audio_url": "/files/reply.wav"}`))
		},
	}

	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			c := testClient(t, srv.URL, time.Second)
			path, err := c.Synthesize(context.Background(), "hello")
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, wavData) {
				t.Fatalf("stored audio differs from source (%d vs %d bytes)", len(got), len(wavData))
			}
			if filepath.Ext(path) != ".wav" {
				t.Fatalf("path = %s, want .wav", path)
			}
		})
	}
}

// TestErrorTaxonomy verifies each failure mode maps to its error kind.
func TestErrorTaxonomy(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cases := []struct {
		name    string
		handler http.HandlerFunc
		url     string
		want    error
	}{
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: ErrTimeout,
		},
		{
			name: "unreachable",
			url:  deadURL,
			want: ErrConnection,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want: ErrHTTP,
		},
		{
			name: "empty json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{}`))
			},
			want: ErrMalformedResponse,
		},
		{
			name: "garbage",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/x-unknown")
				w.Write([]byte("<<<"))
			},
			want: ErrMalformedResponse,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := tc.url
			if tc.handler != nil {
				srv := httptest.NewServer(tc.handler)
				defer srv.Close()
				url = srv.URL
			}

			c := testClient(t, url, 100*time.Millisecond)
			_, err := c.Transcribe(context.Background(), tempFile(t, "audio.wav", sampleWAV(t)))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}

			var rerr *Error
			if !errors.As(err, &rerr) || rerr.Op != OpTranscribe {
				t.Fatalf("err = %#v, want *Error for %s", err, OpTranscribe)
			}
		})
	}
}

// TestSynthesizeRejectsTextOnly verifies a reply without audio is malformed.
func TestSynthesizeRejectsTextOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "no audio here"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, time.Second)
	if _, err := c.Synthesize(context.Background(), "hi"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want malformed", err)
	}
}

// TestEmptyTranscriptAccepted verifies "" is a valid transcript.
func TestEmptyTranscriptAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": ""}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, time.Second)
	text, err := c.Transcribe(context.Background(), tempFile(t, "audio.wav", sampleWAV(t)))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Fatalf("text = %q", text)
	}
}

// TestAnalyzeImageSkipsBlankFields verifies a blank description field does
// not hide a later populated one, and that an all-blank reply is malformed.
func TestAnalyzeImageSkipsBlankFields(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		want      string
		malformed bool
	}{
		{name: "blank description", body: `{"description": "", "analysis": "a red mug on a desk"}`, want: "a red mug on a desk"},
		{name: "whitespace description", body: `{"description": "  ", "result": "a door"}`, want: "a door"},
		{name: "all blank", body: `{"description": "", "analysis": ""}`, malformed: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := testClient(t, srv.URL, time.Second)
			desc, err := c.AnalyzeImage(context.Background(), tempFile(t, "image.jpg", []byte{0xff, 0xd8, 0xff, 0xd9}), "")
			if tc.malformed {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("err = %v, want malformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AnalyzeImage: %v", err)
			}
			if desc != tc.want {
				t.Fatalf("desc = %q, want %q", desc, tc.want)
			}
		})
	}
}

// TestTranscribeSkipsBlankFields verifies a blank text field falls through
// to a populated transcript field.
func TestTranscribeSkipsBlankFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "", "transcription": "what is this"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, time.Second)
	text, err := c.Transcribe(context.Background(), tempFile(t, "audio.wav", sampleWAV(t)))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what is this" {
		t.Fatalf("text = %q", text)
	}
}
