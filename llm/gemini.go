// Package llm is the extraction capability client: it sends the harvested
// product-detail images to a Gemini multimodal model and returns the
// model's analysis text verbatim.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/use-agent/labelscan/harvest"
	"github.com/use-agent/labelscan/models"
	"google.golang.org/genai"
)

// Generator is the part of the Gemini models service the client uses.
// genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ModelLister enumerates the models available to the API key.
// genai.Models satisfies it.
type ModelLister interface {
	All(ctx context.Context) iter.Seq2[*genai.Model, error]
}

// Options configures a Client.
type Options struct {
	// Model is the Gemini model name, e.g. "gemini-2.5-flash".
	Model string

	// Prompt is the instruction template.
	Prompt string

	// MaxElapsed bounds the total time spent including retries.
	MaxElapsed time.Duration

	// InitialInterval is the first retry delay. Zero uses the backoff default.
	InitialInterval time.Duration
}

// Client is the extraction capability. It is safe for concurrent use.
type Client struct {
	gen    Generator
	lister ModelLister
	opts   Options
}

// Result holds the analysis output.
type Result struct {
	// Text is the model output, passed through verbatim.
	Text  string
	Usage *models.LLMUsage
	Model string

	// Attempts is the number of GenerateContent calls made.
	Attempts int
}

// NewClient connects to the Gemini API with apiKey.
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, models.NewScanError(models.ErrCodeLLMAuthFailure, "GEMINI_API_KEY is not set", nil)
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return New(gc.Models, gc.Models, opts), nil
}

// New creates a Client around an existing generator. lister may be nil
// when ListModels is not needed.
func New(gen Generator, lister ModelLister, opts Options) *Client {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Client{gen: gen, lister: lister, opts: opts}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.opts.Model }

// Prompt returns the instruction template.
func (c *Client) Prompt() string { return c.opts.Prompt }

// Analyze sends the prompt, the optional notice text and every image in
// one user turn and returns the model's answer.
//
// Rate limiting, server errors and network failures are retried with
// exponential backoff until MaxElapsed. Any failure is returned as a
// *models.ScanError with an extraction error code.
func (c *Client) Analyze(ctx context.Context, images []*harvest.Image, notice string) (*Result, error) {
	if len(images) == 0 {
		return nil, models.NewScanError(models.ErrCodeExtraction, "no images to analyse", nil)
	}

	parts := make([]*genai.Part, 0, len(images)+2)
	parts = append(parts, genai.NewPartFromText(c.opts.Prompt))
	if notice != "" {
		parts = append(parts, genai.NewPartFromText(noticeHeader+notice))
	}
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	b := backoff.NewExponentialBackOff()
	if c.opts.MaxElapsed > 0 {
		b.MaxElapsedTime = c.opts.MaxElapsed
	}
	if c.opts.InitialInterval > 0 {
		b.InitialInterval = c.opts.InitialInterval
	}
	b.MaxInterval = 30 * time.Second

	result := &Result{Model: c.opts.Model}
	operation := func() error {
		result.Attempts++
		start := time.Now()
		resp, err := c.gen.GenerateContent(ctx, c.opts.Model, contents, nil)
		if err != nil {
			if isTransient(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}

		text := resp.Text()
		if text == "" {
			return backoff.Permanent(emptyResponseError(resp))
		}
		result.Text = text
		result.Usage = usageOf(resp)

		slog.Info("analysis complete",
			"model", c.opts.Model,
			"images", len(images),
			"duration", time.Since(start),
			"attempt", result.Attempts,
		)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("analysis failed, retrying", "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, classifyError(err)
	}
	return result, nil
}

// ModelInfo describes one model available to the API key.
type ModelInfo struct {
	Name        string
	DisplayName string
}

// ListModels returns the models that support generateContent.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if c.lister == nil {
		return nil, errors.New("llm: model listing not configured")
	}
	var out []ModelInfo
	for m, err := range c.lister.All(ctx) {
		if err != nil {
			return nil, classifyError(err)
		}
		if !slices.Contains(m.SupportedActions, "generateContent") {
			continue
		}
		out = append(out, ModelInfo{Name: m.Name, DisplayName: m.DisplayName})
	}
	return out, nil
}

func usageOf(resp *genai.GenerateContentResponse) *models.LLMUsage {
	if resp.UsageMetadata == nil {
		return nil
	}
	return &models.LLMUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

// emptyResponseError explains why a response carried no text.
func emptyResponseError(resp *genai.GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("request blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		return fmt.Errorf("empty response (finish reason %s)", resp.Candidates[0].FinishReason)
	}
	return errors.New("empty response")
}

// isTransient reports whether a GenerateContent error is worth retrying.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// classifyError maps a final error to an extraction error code.
func classifyError(err error) *models.ScanError {
	var se *models.ScanError
	if errors.As(err, &se) {
		return se
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = "Gemini API error"
		}
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return models.NewScanError(models.ErrCodeLLMAuthFailure, msg, err)
		case apiErr.Code == http.StatusTooManyRequests:
			return models.NewScanError(models.ErrCodeLLMRateLimited, msg, err)
		default:
			return models.NewScanError(models.ErrCodeExtraction,
				fmt.Sprintf("Gemini API returned %d: %s", apiErr.Code, msg), err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewScanError(models.ErrCodeExtraction, "analysis timed out", err)
	}
	return models.NewScanError(models.ErrCodeExtraction, "analysis failed", err)
}
