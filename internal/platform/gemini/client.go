package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/studyforge-backend/internal/pkg/httpx"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

// Options mirrors the OpenAI client's: explicit credentials, no
// environment reads.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	Timeout    time.Duration
	MaxRetries int
}

type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
	maxRetries int
}

func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("missing gemini api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	embedModel := strings.TrimSpace(opts.EmbedModel)
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		log:        log.With("service", "GeminiClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("gemini http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *Client) endpoint(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s", c.baseURL, url.PathEscape(model), method, url.QueryEscape(c.apiKey))
}

func (c *Client) doOnce(ctx context.Context, endpoint string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *Client) do(ctx context.Context, endpoint string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, endpoint, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("gemini decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Gemini request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// -------------------- Structured outputs --------------------

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature      float64        `json:"temperature"`
	CandidateCount   int            `json:"candidateCount,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

func (c *Client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: user}},
		}},
		GenerationConfig: generationConfig{
			Temperature:      0.2,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
			ResponseSchema:   stripSchemaExtras(schema),
		},
	}
	if strings.TrimSpace(system) != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	var resp generateResponse
	if err := c.do(ctx, c.endpoint(c.model, "generateContent"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	var out strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}
	jsonText := strings.TrimSpace(out.String())
	if jsonText == "" {
		return nil, fmt.Errorf("no output_text found in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w; text=%s", err, jsonText)
	}
	return obj, nil
}

// stripSchemaExtras removes json_schema keywords Gemini's responseSchema
// dialect rejects (additionalProperties, strictness markers), keeping
// the structural core shared by both providers.
func stripSchemaExtras(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "additionalProperties" || k == "strict" {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			out[k] = stripSchemaExtras(t)
		case []any:
			items := make([]any, 0, len(t))
			for _, item := range t {
				if m, ok := item.(map[string]any); ok {
					items = append(items, stripSchemaExtras(m))
				} else {
					items = append(items, item)
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

// -------------------- Embeddings --------------------

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type embedContentRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	req := batchEmbedRequest{Requests: make([]embedContentRequest, 0, len(inputs))}
	for _, input := range inputs {
		s := strings.TrimSpace(input)
		if s == "" {
			s = " "
		}
		req.Requests = append(req.Requests, embedContentRequest{
			Model:   "models/" + c.embedModel,
			Content: content{Parts: []part{{Text: s}}},
		})
	}

	var resp batchEmbedResponse
	if err := c.do(ctx, c.endpoint(c.embedModel, "batchEmbedContents"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("gemini embeddings count mismatch: requested=%d returned=%d model=%s",
			len(inputs), len(resp.Embeddings), c.embedModel)
	}

	out := make([][]float32, len(inputs))
	for i, e := range resp.Embeddings {
		vec := make([]float32, len(e.Values))
		for j, f := range e.Values {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}
