package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"rsbp/pkg/audioconv"
)

// maxBody bounds any single response body we are willing to buffer.
const maxBody = 32 << 20

// PayloadKind tells what a normalized response carries.
type PayloadKind int

const (
	PayloadText PayloadKind = iota + 1
	PayloadAudio
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Response is the single shape every remote reply is reduced to, whatever
// encoding the service chose.
type Response struct {
	Kind  PayloadKind
	Text  string
	Audio []byte
}

var (
	textPaths = []string{
		"text", "transcription", "transcript", "description", "analysis",
		"result", "response", "answer", "content",
		"data.text", "data.transcription", "data.description", "data.analysis",
		"result.text", "result.description",
	}
	inlineAudioPaths = []string{
		"audio", "audio_base64", "audio_data", "audio_content", "data",
		"data.audio", "data.audio_base64", "result.audio",
	}
	audioURLPaths = []string{
		"audio_url", "url", "file_url", "download_url",
		"data.audio_url", "data.url", "result.audio_url",
	}
)

// Normalize reduces resp to a Response. want decides which payload is
// looked for first when a JSON body carries both. resp.Body is consumed
// and closed.
func (c *Client) Normalize(ctx context.Context, op string, resp *http.Response, want PayloadKind) (Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Response{}, transportError(op, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	switch {
	case strings.HasPrefix(mediaType, "audio/"), mediaType == "application/octet-stream":
		if len(body) == 0 {
			return Response{}, malformed(op, "empty audio body")
		}
		return Response{Kind: PayloadAudio, Audio: body}, nil

	case isJSON(mediaType, body):
		return c.normalizeJSON(ctx, op, body, want)

	case audioconv.Sniff(body) != audioconv.FormatUnknown:
		return Response{Kind: PayloadAudio, Audio: body}, nil

	case mediaType == "text/plain":
		return Response{Kind: PayloadText, Text: strings.TrimSpace(string(body))}, nil
	}

	return Response{}, malformed(op, "unrecognized body (content-type %q, %d bytes)", mediaType, len(body))
}

func isJSON(mediaType string, body []byte) bool {
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (c *Client) normalizeJSON(ctx context.Context, op string, body []byte, want PayloadKind) (Response, error) {
	if !gjson.ValidBytes(body) {
		return Response{}, malformed(op, "invalid json body")
	}

	if want == PayloadAudio {
		if r, ok, err := c.audioFromJSON(ctx, op, body); ok || err != nil {
			return r, err
		}
		if text, ok := firstString(body, textPaths); ok {
			return Response{Kind: PayloadText, Text: text}, nil
		}
	} else {
		if text, ok := firstString(body, textPaths); ok {
			return Response{Kind: PayloadText, Text: text}, nil
		}
		if r, ok, err := c.audioFromJSON(ctx, op, body); ok || err != nil {
			return r, err
		}
	}

	return Response{}, malformed(op, "json body has no recognized payload field")
}

func (c *Client) audioFromJSON(ctx context.Context, op string, body []byte) (Response, bool, error) {
	for _, p := range inlineAudioPaths {
		v := gjson.GetBytes(body, p)
		if v.Type != gjson.String || v.Str == "" {
			continue
		}
		if looksLikeURL(v.Str) {
			r, err := c.fetchAudio(ctx, op, v.Str)
			return r, true, err
		}
		if data, err := decodeInline(v.Str); err == nil && len(data) > 0 {
			return Response{Kind: PayloadAudio, Audio: data}, true, nil
		}
	}

	for _, p := range audioURLPaths {
		v := gjson.GetBytes(body, p)
		if v.Type == gjson.String && v.Str != "" {
			r, err := c.fetchAudio(ctx, op, v.Str)
			return r, true, err
		}
	}

	return Response{}, false, nil
}

// firstString returns the first non-blank string among paths. A body whose
// only matching fields are blank still reports ok with an empty text.
func firstString(body []byte, paths []string) (string, bool) {
	found := false
	for _, p := range paths {
		v := gjson.GetBytes(body, p)
		if v.Type != gjson.String {
			continue
		}
		found = true
		if text := strings.TrimSpace(v.Str); text != "" {
			return text, true
		}
	}
	return "", found
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "/")
}

// decodeInline accepts plain or data-URL base64, padded or not.
func decodeInline(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, fmt.Errorf("malformed data url")
		}
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)

	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// fetchAudio downloads a secondary audio URL, resolved against the base url.
func (c *Client) fetchAudio(ctx context.Context, op, ref string) (Response, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Response{}, malformed(op, "bad audio url %q: %v", ref, err)
	}
	target := c.base.ResolveReference(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Response{}, malformed(op, "build fetch request: %v", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &Error{Op: op, Kind: KindHTTP, StatusCode: resp.StatusCode, Err: fmt.Errorf("fetch %s", target)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Response{}, transportError(op, err)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if len(data) == 0 || isJSON(mediaType, data) {
		return Response{}, malformed(op, "audio url %s returned no audio", target)
	}

	return Response{Kind: PayloadAudio, Audio: data}, nil
}
