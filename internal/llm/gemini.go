// Package llm provides the Gemini-backed client behind the shared LLMClient
// and Embedder interfaces. All failures are classified into the pipeline's
// error taxonomy at this boundary so stage nodes and the dispatch gate can
// decide retry/skip/abort from the error type alone.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"leadflow/internal/logging"
	"leadflow/internal/types"
)

const serviceName = "gemini"

// Options configures the client. Zero values fall back to defaults.
type Options struct {
	APIKey      string
	Model       string
	EmbedModel  string
	Temperature float64
	Timeout     time.Duration
}

// Client talks to the Gemini API for both completion and embeddings.
type Client struct {
	client      *genai.Client
	model       string
	embedModel  string
	temperature float32
	timeout     time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// New creates a Gemini client.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = "gemini-embedding-001"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		client:      client,
		model:       opts.Model,
		embedModel:  opts.EmbedModel,
		temperature: float32(opts.Temperature),
		timeout:     opts.Timeout,
	}, nil
}

// Complete sends a bare prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	logging.LLMDebug("CompleteWithSystem: model=%s system_len=%d user_len=%d", c.model, len(systemPrompt), len(userPrompt))

	c.pace()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
	if err != nil {
		logging.LLMError("GenerateContent failed after %v: %v", time.Since(start), err)
		return "", classify(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &types.PermanentServiceError{Service: serviceName, Err: fmt.Errorf("no completion returned")}
	}

	logging.LLMDebug("CompleteWithSystem: %d chars in %v", len(text), time.Since(start))
	return text, nil
}

// Embed generates embeddings for multiple texts in one batch call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.pace()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := c.client.Models.EmbedContent(ctx,
		c.embedModel,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, classify(err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, &types.PermanentServiceError{
			Service: serviceName,
			Err:     fmt.Errorf("embed returned %d vectors for %d texts", len(result.Embeddings), len(texts)),
		}
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// pace enforces a minimum interval between API calls.
func (c *Client) pace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
}

// Close releases the client. The genai SDK's HTTP-based client holds no
// resources that need explicit closing, so this always succeeds.
func (c *Client) Close() error {
	return nil
}

// classify maps raw API failures onto the shared taxonomy. The genai SDK
// does not export a stable error type across transports, so this matches on
// status text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.TransientServiceError{Service: serviceName, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return &types.PermanentServiceError{Service: serviceName, Auth: true, Err: err}
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"):
		return &types.TransientServiceError{Service: serviceName, Err: err}
	default:
		return &types.PermanentServiceError{Service: serviceName, Err: err}
	}
}
