package llm

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/labelscan/harvest"
	"github.com/use-agent/labelscan/models"
	"google.golang.org/genai"
)

// fakeGenerator returns errs in order, then resp.
type fakeGenerator struct {
	errs  []error
	resp  *genai.GenerateContentResponse
	calls int

	model    string
	contents []*genai.Content
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.contents = contents
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return f.resp, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     1200,
			CandidatesTokenCount: 300,
			TotalTokenCount:      1500,
		},
	}
}

func testImages() []*harvest.Image {
	return []*harvest.Image{
		{Index: 1, Data: []byte("png-1"), MIMEType: "image/png"},
		{Index: 3, Data: []byte("jpeg-3"), MIMEType: "image/jpeg"},
	}
}

func testClient(gen Generator) *Client {
	return New(gen, nil, Options{
		Model:           "gemini-2.5-flash",
		MaxElapsed:      time.Second,
		InitialInterval: time.Millisecond,
	})
}

func TestAnalyze(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("1. 제품명: 그릭요거트")}

	res, err := testClient(gen).Analyze(context.Background(), testImages(), "| 식품의 유형 | 발효유 |")
	require.NoError(t, err)

	assert.Equal(t, "1. 제품명: 그릭요거트", res.Text)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, &models.LLMUsage{PromptTokens: 1200, CompletionTokens: 300, TotalTokens: 1500}, res.Usage)
	assert.Equal(t, "gemini-2.5-flash", gen.model)

	require.Len(t, gen.contents, 1)
	parts := gen.contents[0].Parts
	require.Len(t, parts, 4)
	assert.Equal(t, genai.RoleUser, gen.contents[0].Role)
	assert.Equal(t, DefaultPrompt, parts[0].Text)
	assert.Contains(t, parts[1].Text, "발효유")
	assert.Equal(t, []byte("png-1"), parts[2].InlineData.Data)
	assert.Equal(t, "image/jpeg", parts[3].InlineData.MIMEType)
}

func TestAnalyze_WithoutNotice(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}

	_, err := testClient(gen).Analyze(context.Background(), testImages(), "")
	require.NoError(t, err)
	assert.Len(t, gen.contents[0].Parts, 3)
}

func TestAnalyze_RetriesTransientErrors(t *testing.T) {
	gen := &fakeGenerator{
		errs: []error{
			genai.APIError{Code: 429, Message: "quota"},
			genai.APIError{Code: 503, Message: "overloaded"},
			errors.New("connection reset by peer"),
		},
		resp: textResponse("ok"),
	}

	res, err := testClient(gen).Analyze(context.Background(), testImages(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempts)
}

func TestAnalyze_PermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"bad key", genai.APIError{Code: 403, Message: "API key not valid"}, models.ErrCodeLLMAuthFailure},
		{"unauthorized", genai.APIError{Code: 401}, models.ErrCodeLLMAuthFailure},
		{"bad request", genai.APIError{Code: 400, Message: "image too large"}, models.ErrCodeExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{errs: []error{tt.err}, resp: textResponse("never")}

			_, err := testClient(gen).Analyze(context.Background(), testImages(), "")
			require.Error(t, err)
			assert.True(t, models.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, 1, gen.calls, "permanent errors are not retried")
		})
	}
}

func TestAnalyze_RateLimitedUntilDeadline(t *testing.T) {
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = genai.APIError{Code: 429, Message: "quota"}
	}
	gen := &fakeGenerator{errs: errs}
	c := New(gen, nil, Options{MaxElapsed: 20 * time.Millisecond, InitialInterval: time.Millisecond})

	_, err := c.Analyze(context.Background(), testImages(), "")
	assert.True(t, models.HasCode(err, models.ErrCodeLLMRateLimited), "got %v", err)
	assert.Greater(t, gen.calls, 1)
}

func TestAnalyze_EmptyResponse(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
	}}

	_, err := testClient(gen).Analyze(context.Background(), testImages(), "")
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.ErrCodeExtraction))
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestAnalyze_NoImages(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}

	_, err := testClient(gen).Analyze(context.Background(), nil, "")
	assert.True(t, models.HasCode(err, models.ErrCodeExtraction))
	assert.Zero(t, gen.calls)
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &fakeGenerator{errs: []error{context.Canceled}}

	_, err := testClient(gen).Analyze(ctx, testImages(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, gen.calls)
}

type fakeLister []*genai.Model

func (f fakeLister) All(context.Context) iter.Seq2[*genai.Model, error] {
	return func(yield func(*genai.Model, error) bool) {
		for _, m := range f {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func TestListModels(t *testing.T) {
	lister := fakeLister{
		{Name: "models/gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", SupportedActions: []string{"generateContent", "countTokens"}},
		{Name: "models/text-embedding-004", SupportedActions: []string{"embedContent"}},
		{Name: "models/gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", SupportedActions: []string{"generateContent"}},
	}
	c := New(&fakeGenerator{}, lister, Options{})

	got, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModelInfo{
		{Name: "models/gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash"},
		{Name: "models/gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro"},
	}, got)
}

func TestLoadPrompt(t *testing.T) {
	p, err := LoadPrompt("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, p)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  List the allergens.\n"), 0o600))
	p, err = LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "List the allergens.", p)

	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))
	_, err = LoadPrompt(path)
	assert.Error(t, err)

	_, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
