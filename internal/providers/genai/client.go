// Package genai talks to the external generation backend over HTTP. It is
// deliberately thin: payload assembly, the call itself, and classification of
// failures into retryable and terminal kinds. Billing and state transitions
// live with the callers.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"atelier/internal/infra"
)

// Options controls how the client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client invokes the generation backend.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *infra.Logger
}

// Media is a single inline-encoded media blob.
type Media struct {
	MIME string
	Data []byte
}

// GenerateRequest is the documented payload the backend accepts: prompt text,
// reference media, and the desired variant count.
type GenerateRequest struct {
	Prompt    string
	Reference []Media
	Variants  int
	RequestID string
}

// GenerateResult is the normalized backend response.
type GenerateResult struct {
	Media []Media
	Text  string
}

// CallError describes a failed backend call. Transient errors are eligible
// for retry under the executor's charge/refund protocol; the rest are
// terminal on first occurrence.
type CallError struct {
	Status    int
	Message   string
	Transient bool
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("genai: backend status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("genai: %s", e.Message)
}

// IsTransient reports whether the error is worth retrying: network and
// timeout failures, non-2xx statuses, and undecodable response bodies. A
// well-formed response that simply contains no usable media is terminal.
func IsTransient(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inline_data,omitempty"`
}

type wireInlineData struct {
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

type wireGenerateRequest struct {
	Prompt    string     `json:"prompt"`
	Reference []wirePart `json:"reference,omitempty"`
	Variants  int        `json:"variants,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

type wireGenerateResponse struct {
	Parts []wirePart `json:"parts"`
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a backend client with sane defaults. Callers may
// provide a nil HTTP client; one with the configured timeout is created.
func NewClient(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("genai: base url is required")
	}
	model := opts.Model
	if model == "" {
		model = "atelier-edit-1"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		timeout:    timeout,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate submits the edit payload and returns the inline-decoded result.
// Every call carries an explicit deadline.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	variants := req.Variants
	if variants <= 0 {
		variants = 1
	}

	payload := wireGenerateRequest{
		Prompt:    req.Prompt,
		Variants:  variants,
		RequestID: req.RequestID,
	}
	for _, m := range req.Reference {
		payload.Reference = append(payload.Reference, wirePart{
			InlineData: &wireInlineData{
				MimeType: m.MIME,
				Data:     base64.StdEncoding.EncodeToString(m.Data),
			},
		})
	}

	var response wireGenerateResponse
	if err := c.invoke(ctx, fmt.Sprintf("/models/%s:generate", url.PathEscape(c.model)), payload, &response); err != nil {
		return nil, err
	}

	result := &GenerateResult{}
	var texts []string
	for _, part := range response.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			result.Media = append(result.Media, Media{MIME: mime, Data: data})
			continue
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	result.Text = strings.Join(texts, "\n")

	if len(result.Media) == 0 && result.Text == "" {
		// The backend answered cleanly but produced nothing usable. There is
		// no retry value in resubmitting the identical payload.
		return nil, &CallError{Message: "response contains no usable content", Transient: false}
	}

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("model", c.model).
		Int("media", len(result.Media)).
		Msg("genai: generated")
	return result, nil
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out *wireGenerateResponse) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("genai: marshal request: %w", err)
	}
	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("genai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &CallError{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read the body once; decoding straight from the stream would leave
		// the raw-text fallback with only whatever the decoder did not eat.
		data, _ := io.ReadAll(resp.Body)
		var apiErr wireGenerateResponse
		message := ""
		if decodeErr := json.Unmarshal(data, &apiErr); decodeErr == nil {
			message = apiErr.Error.Message
		}
		if message == "" {
			message = strings.TrimSpace(string(data))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &CallError{Status: resp.StatusCode, Message: message, Transient: true}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &CallError{Message: fmt.Sprintf("malformed response: %v", err), Transient: true}
	}
	return nil
}
