package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/retry"
)

const (
	geminiAPIBase       = "https://generativelanguage.googleapis.com"
	geminiAPIVersion    = "v1beta"
	defaultGeminiModel  = "gemini-1.5-flash-001"
	defaultMaxTokens    = 8192
	defaultTemperature  = 1.0
	defaultTopP         = 0.95
	safetyBlockMedium   = "BLOCK_MEDIUM_AND_ABOVE"
	maxErrorBodyPreview = 512
)

var safetyCategories = []string{
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_HARASSMENT",
}

// GeminiProvider implements Provider using the Generative Language
// generateContent API.
type GeminiProvider struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	retry     retry.Policy
	client    *http.Client
	logger    zerolog.Logger
}

// GeminiOption configures the provider.
type GeminiOption func(*GeminiProvider)

func WithModel(model string) GeminiOption {
	return func(p *GeminiProvider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithBaseURL(u string) GeminiOption {
	return func(p *GeminiProvider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithMaxTokens(n int) GeminiOption {
	return func(p *GeminiProvider) { p.maxTokens = n }
}

// WithRetry retries 429, 5xx and transport failures under p.
func WithRetry(p retry.Policy) GeminiOption {
	return func(g *GeminiProvider) { g.retry = p }
}

func WithHTTPClient(c *http.Client) GeminiOption {
	return func(p *GeminiProvider) { p.client = c }
}

func WithLogger(l zerolog.Logger) GeminiOption {
	return func(p *GeminiProvider) { p.logger = l.With().Str("component", "llm.gemini").Logger() }
}

// NewGeminiProvider constructs a new Gemini provider.
func NewGeminiProvider(apiKey string, opts ...GeminiOption) *GeminiProvider {
	p := &GeminiProvider{
		apiKey:    apiKey,
		model:     defaultGeminiModel,
		baseURL:   geminiAPIBase,
		maxTokens: defaultMaxTokens,
		retry:     retry.None(),
		client:    &http.Client{Timeout: 120 * time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *GeminiProvider) ModelID() string { return p.model }

// ---- Gemini wire types ----

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (p *GeminiProvider) buildRequest(req CompletionRequest) geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		role := RoleUser
		if m.Role == RoleModel {
			role = RoleModel
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	contents = append(contents, geminiContent{Role: RoleUser, Parts: []geminiPart{{Text: req.Prompt}}})

	gr := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: p.maxTokens,
			Temperature:     defaultTemperature,
			TopP:            defaultTopP,
		},
	}
	for _, c := range safetyCategories {
		gr.SafetySettings = append(gr.SafetySettings, geminiSafetySetting{Category: c, Threshold: safetyBlockMedium})
	}
	return gr
}

func (p *GeminiProvider) doRequest(ctx context.Context, gr geminiRequest) (*http.Response, error) {
	body, err := json.Marshal(gr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", p.baseURL, geminiAPIVersion, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	return p.client.Do(httpReq)
}

// Complete sends a blocking generateContent request.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	gr := p.buildRequest(req)

	var out *geminiResponse
	err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		var err error
		out, err = p.generate(ctx, gr)
		return err
	})
	if err != nil {
		return nil, err
	}

	cr := &CompletionResponse{
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
	}
	for _, c := range out.Candidates {
		cand := Candidate{FinishReason: c.FinishReason}
		for _, part := range c.Content.Parts {
			cand.Parts = append(cand.Parts, Part{Text: part.Text})
		}
		cr.Candidates = append(cr.Candidates, cand)
	}

	p.logger.Debug().
		Str("model", p.model).
		Int("candidates", len(cr.Candidates)).
		Int("in_tokens", cr.InputTokens).
		Int("out_tokens", cr.OutputTokens).
		Msg("gemini complete")
	return cr, nil
}

func (p *GeminiProvider) generate(ctx context.Context, gr geminiRequest) (*geminiResponse, error) {
	resp, err := p.doRequest(ctx, gr)
	if err != nil {
		return nil, fmt.Errorf("gemini http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil {
			msg = out.Error.Status + ": " + out.Error.Message
		} else if len(msg) > maxErrorBodyPreview {
			msg = msg[:maxErrorBodyPreview]
		}
		return nil, perrors.NewAPIError("gemini", resp.StatusCode, msg)
	}
	return &out, nil
}
