// Package vision sends attachment images to an OpenAI-compatible vision
// model and shapes the reply into the fixed result fields the datastore
// expects.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vietddude/lens/internal/core/domain"
	"github.com/vietddude/lens/internal/core/fault"
)

const defaultPrompt = `Describe the equipment shown in this photo for a maintenance record.
Cover: what the device is, visible technical details (model plates, gauges,
wiring, wear), and the surrounding environment. Plain text, no markdown.`

// Config holds the vision endpoint parameters.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Prompt      string        `yaml:"prompt"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Recognizer runs image recognition through the chat completions API.
type Recognizer struct {
	client openai.Client
	cfg    Config
	log    *slog.Logger
}

// NewRecognizer validates the config and builds the client.
func NewRecognizer(cfg Config) (*Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fault.Config("vision api_key is required")
	}
	if cfg.Model == "" {
		return nil, fault.Config("vision model is required")
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Recognizer{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		log:    slog.Default().With("component", "vision"),
	}, nil
}

// Recognize describes one image given as a base64 data URL, optionally
// hinted by the uploader's own description.
func (r *Recognizer) Recognize(ctx context.Context, dataURL, hint string) (*domain.Recognition, error) {
	if dataURL == "" {
		return nil, fault.Invalid("image payload is empty")
	}

	prompt := r.cfg.Prompt
	if hint != "" {
		prompt = fmt.Sprintf("%s\n\nUploader notes: %s", prompt, hint)
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}),
	}

	start := time.Now()
	completion, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               r.cfg.Model,
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		MaxCompletionTokens: openai.Int(r.cfg.MaxTokens),
		Temperature:         openai.Float(r.cfg.Temperature),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Timeout("vision request timed out", fault.WithCause(err))
		}
		return nil, fault.Remote("vision request failed", fault.WithCause(err))
	}
	if len(completion.Choices) == 0 {
		return nil, fault.Remote("vision model returned no choices")
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return nil, fault.Remote("vision model returned empty text")
	}

	rec := buildRecognition(text)
	rec.Usage = domain.TokenUsage{
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
	}
	rec.Metadata = fmt.Sprintf("model=%s tokens=%d elapsed=%s",
		r.cfg.Model, rec.Usage.TotalTokens, time.Since(start).Round(time.Millisecond))

	r.log.Info("Recognition complete",
		"model", r.cfg.Model,
		"tokens", rec.Usage.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return rec, nil
}

// buildRecognition slices the full reply into the categorized fields. The
// categorization is keyword-driven and degrades to the full text when a
// bucket finds nothing.
func buildRecognition(text string) *domain.Recognition {
	rec := &domain.Recognition{FullText: text}
	rec.Device = firstMatch(text, deviceKeywords)
	rec.Technical = firstMatch(text, technicalKeywords)
	rec.Environment = firstMatch(text, environmentKeywords)
	return rec
}

var (
	deviceKeywords = []string{
		"device", "equipment", "machine", "unit", "pump", "motor", "panel",
		"cabinet", "valve", "meter", "sensor", "instrument", "apparatus",
	}
	technicalKeywords = []string{
		"model", "serial", "label", "plate", "gauge", "reading", "wiring",
		"display", "specification", "rated", "voltage", "pressure",
	}
	environmentKeywords = []string{
		"environment", "background", "surrounding", "indoor", "outdoor",
		"room", "site", "floor", "wall", "installed", "mounted", "located",
	}
)

// firstMatch returns the first sentence mentioning any keyword, or empty.
func firstMatch(text string, keywords []string) string {
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return sentence
			}
		}
	}
	return ""
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '\n' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
