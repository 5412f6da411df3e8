package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rsbp/internal/audio"
	"rsbp/internal/config"
	"rsbp/pkg/audioconv"
)

const (
	OpTranscribe   = "transcribe"
	OpAnalyzeImage = "analyze_image"
	OpSynthesize   = "synthesize"

	pathTranscribe = "audio/transcribe"
	pathAnalyze    = "image/analyze-image"
	pathSynthesize = "tts/generate"
)

// Client talks to the remote inference service. Every operation has the
// same fixed deadline and is never retried.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	outDir  string
	now     func() time.Time
}

// New builds a client for cfg.APIURL. httpClient may be nil.
func New(cfg config.Config, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	// Trailing slash so relative references resolve under the API root.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		base:    base,
		http:    httpClient,
		timeout: cfg.APITimeout,
		outDir:  cfg.ResponsesDir,
		now:     time.Now,
	}, nil
}

// Transcribe uploads a WAV recording and returns the recognized text. An
// empty transcript is a valid result.
func (c *Client) Transcribe(ctx context.Context, wavPath string) (string, error) {
	body, contentType, err := multipartBody(OpTranscribe, []filePart{{field: "file", path: wavPath, mime: "audio/wav"}}, nil)
	if err != nil {
		return "", err
	}

	res, err := c.call(ctx, OpTranscribe, pathTranscribe, contentType, body, PayloadText)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// AnalyzeImage uploads a JPEG with an optional question and returns the
// service's description. A blank description is a malformed response.
func (c *Client) AnalyzeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	var fields map[string]string
	if prompt != "" {
		fields = map[string]string{"question": prompt}
	}

	body, contentType, err := multipartBody(OpAnalyzeImage, []filePart{{field: "image", path: imagePath, mime: "image/jpeg"}}, fields)
	if err != nil {
		return "", err
	}

	res, err := c.call(ctx, OpAnalyzeImage, pathAnalyze, contentType, body, PayloadText)
	if err != nil {
		return "", err
	}
	if res.Text == "" {
		return "", malformed(OpAnalyzeImage, "empty description")
	}
	return res.Text, nil
}

// Synthesize turns text into speech and stores it as a WAV file under the
// responses directory. Non-WAV audio from the service is transcoded.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("%s: encode request: %w", OpSynthesize, err)
	}

	res, err := c.call(ctx, OpSynthesize, pathSynthesize, "application/json", payload, PayloadAudio)
	if err != nil {
		return "", err
	}

	return c.storeAudio(ctx, res.Audio)
}

func (c *Client) storeAudio(ctx context.Context, data []byte) (string, error) {
	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return "", fmt.Errorf("%s: create responses dir: %w", OpSynthesize, err)
	}

	stamp := c.now().Format("20060102_150405")
	out := filepath.Join(c.outDir, fmt.Sprintf("response_%s.wav", stamp))

	format := audioconv.Sniff(data)
	if format == audioconv.FormatWAV {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return "", fmt.Errorf("%s: write audio: %w", OpSynthesize, err)
		}
		return out, nil
	}

	raw := filepath.Join(c.outDir, fmt.Sprintf("response_%s%s", stamp, format.Ext()))
	if err := os.WriteFile(raw, data, 0o644); err != nil {
		return "", fmt.Errorf("%s: write audio: %w", OpSynthesize, err)
	}
	defer os.Remove(raw)

	if err := audio.TranscodeToWAV(ctx, raw, out); err != nil {
		return "", malformed(OpSynthesize, "audio payload is not playable: %v", err)
	}

	log.Debug("Transcoded synthesized audio", "from", format, "path", out)
	return out, nil
}

// call issues one POST under the fixed deadline and normalizes the reply.
func (c *Client) call(ctx context.Context, op, path, contentType string, body []byte, want PayloadKind) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Op: op, Kind: KindConnection, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		rerr := transportError(op, err)
		log.Warn("Remote call failed", "op", op, "duration", time.Since(start), "err", rerr)
		return Response{}, rerr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		rerr := &Error{Op: op, Kind: KindHTTP, StatusCode: resp.StatusCode}
		if s := strings.TrimSpace(string(snippet)); s != "" {
			rerr.Err = fmt.Errorf("%s", s)
		}
		log.Warn("Remote call failed", "op", op, "status", resp.StatusCode, "duration", time.Since(start))
		return Response{}, rerr
	}

	res, err := c.Normalize(ctx, op, resp, want)
	if err == nil && res.Kind != want {
		err = malformed(op, "expected %s payload, got %s", want, res.Kind)
	}
	if err != nil {
		log.Warn("Remote call failed", "op", op, "status", resp.StatusCode, "duration", time.Since(start), "err", err)
		return Response{}, err
	}

	log.Info("Remote call succeeded", "op", op, "status", resp.StatusCode, "payload", res.Kind, "duration", time.Since(start))
	return res, nil
}

type filePart struct {
	field string
	path  string
	mime  string
}

func multipartBody(op string, files []filePart, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, fp := range files {
		data, err := os.ReadFile(fp.path)
		if err != nil {
			return nil, "", fmt.Errorf("%s: read %s: %w", op, fp.path, err)
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fp.field, filepath.Base(fp.path)))
		h.Set("Content-Type", fp.mime)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("%s: multipart: %w", op, err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("%s: multipart: %w", op, err)
		}
	}

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("%s: multipart: %w", op, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("%s: multipart: %w", op, err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
