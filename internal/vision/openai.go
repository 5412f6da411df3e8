// Package vision describes captured photos through the OpenAI chat API, as
// an alternative to the remote image-analysis endpoint.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const systemPrompt = `
You describe photos for a blind or low-vision user who pressed a button and asked a question.
Answer the question using what is visible in the image.
If there is no question, describe the most important objects and any readable text.
Be concrete and brief: at most three short sentences.
Plain text only. No markdown, no lists.
`

type Analyzer struct {
	client  openai.Client
	model   openai.ChatModel
	timeout time.Duration
}

// New builds an analyzer. Extra options (base URL, for example) are applied
// after the defaults.
func New(apiKey string, httpClient *http.Client, timeout time.Duration, opts ...option.RequestOption) *Analyzer {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		base = append(base, option.WithHTTPClient(httpClient))
	}

	return &Analyzer{
		client:  openai.NewClient(append(base, opts...)...),
		model:   openai.ChatModelGPT4oMini,
		timeout: timeout,
	}
}

// AnalyzeImage answers prompt about the JPEG at imagePath.
func (a *Analyzer) AnalyzeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	question := strings.TrimSpace(prompt)
	if question == "" {
		question = "What is in front of me?"
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)

	start := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(question),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		Model: a.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}

	log.Info("Image analyzed", "model", a.model, "duration", time.Since(start))
	log.Debug("Image description", "text", content)
	return content, nil
}
