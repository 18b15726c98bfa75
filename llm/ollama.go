package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sethvargo/go-retry"

	"github.com/mukut03/agents/framework"
)

const (
	defaultEndpoint   = "http://localhost:11434"
	defaultModel      = "llama3.1"
	defaultMaxRetries = 2
	defaultRetryBase  = 500 * time.Millisecond
)

// Client implements framework.LanguageModel for Ollama.
type Client struct {
	Endpoint string
	Model    string
	// MaxRetries bounds retries of transport errors and 5xx responses.
	// Negative disables retrying.
	MaxRetries int
	RetryBase  time.Duration
	Logger     *log.Logger
	Debug      bool
	client     *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model           string         `json:"model"`
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	Error           string         `json:"error"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

// NewClient builds a new Ollama client.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Model:      model,
		MaxRetries: defaultMaxRetries,
		RetryBase:  defaultRetryBase,
		client: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
}

// SetHTTPClient overrides the transport, mainly for timeouts and tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.client = client
}

// Chat sends the conversation and waits for the complete reply.
func (c *Client) Chat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	resp, err := c.post(ctx, "/api/chat", c.chatPayload(messages, options, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.llmError("read response", err, "/api/chat", resp.StatusCode)
	}
	c.logResponse("/api/chat", body)
	out, err := decodeLLMResponse(bytes.NewReader(body))
	if err != nil {
		return nil, c.llmError("malformed response", err, "/api/chat", resp.StatusCode)
	}
	return out, nil
}

// StreamChat streams the reply as NDJSON chunks. The channel is closed after
// the final chunk; a decode or provider error is delivered as a chunk with Err
// set right before closing.
func (c *Client) StreamChat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	resp, err := c.post(ctx, "/api/chat", c.chatPayload(messages, options, true))
	if err != nil {
		return nil, err
	}
	ch := make(chan framework.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		send := func(chunk framework.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var part ollamaResponse
			if err := json.Unmarshal(line, &part); err != nil {
				send(framework.StreamChunk{Err: c.llmError("malformed stream chunk", err, "/api/chat", resp.StatusCode)})
				return
			}
			if part.Error != "" {
				send(framework.StreamChunk{Err: c.llmError("provider error", errors.New(part.Error), "/api/chat", resp.StatusCode)})
				return
			}
			text := part.Response
			if part.Message != nil {
				text = part.Message.Content
			}
			if text != "" && !send(framework.StreamChunk{Text: text}) {
				return
			}
			if part.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(framework.StreamChunk{Err: c.llmError("stream read failed", err, "/api/chat", resp.StatusCode)})
		}
	}()
	return ch, nil
}

// IsAvailable probes /api/version without retrying.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		c.logger().Debug("ollama unreachable", "endpoint", c.Endpoint, "err", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) chatPayload(messages []framework.ChatMessage, options *framework.LLMOptions, stream bool) map[string]any {
	payload := map[string]any{
		"model":    c.model(options),
		"messages": messages,
		"stream":   stream,
	}
	if opts := ollamaOptions(options); len(opts) > 0 {
		payload["options"] = opts
	}
	return payload
}

// post sends payload, retrying transport failures and 5xx responses. The
// caller owns the returned body.
func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, c.llmError("encode request", err, path, 0)
	}
	c.logPayload(path, body)
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	base := c.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewExponential(base))

	var resp *http.Response
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
		if err != nil {
			return c.llmError("build request", err, path, 0)
		}
		req.Header.Set("Content-Type", "application/json")
		r, err := c.getHTTPClient().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return c.llmError("request cancelled", err, path, 0)
			}
			c.logger().Warn("ollama request failed", "path", path, "attempt", attempt, "err", err)
			return retry.RetryableError(c.llmError("request failed", err, path, 0))
		}
		if r.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			statusErr := fmt.Errorf("ollama error: %s", r.Status)
			if detail := strings.TrimSpace(string(msg)); detail != "" {
				statusErr = fmt.Errorf("ollama error: %s: %s", r.Status, detail)
			}
			llmErr := c.llmError("unexpected status", statusErr, path, r.StatusCode)
			if r.StatusCode >= 500 {
				c.logger().Warn("ollama server error", "path", path, "attempt", attempt, "status", r.StatusCode)
				return retry.RetryableError(llmErr)
			}
			return llmErr
		}
		resp = r
		return nil
	})
	if err != nil {
		var llmErr *framework.LLMError
		if errors.As(err, &llmErr) {
			return nil, llmErr
		}
		return nil, c.llmError("request aborted", err, path, 0)
	}
	return resp, nil
}

func (c *Client) llmError(message string, cause error, path string, status int) *framework.LLMError {
	detail := map[string]any{"endpoint": c.Endpoint + path}
	if status != 0 {
		detail["status"] = status
	}
	return framework.NewLLMError(message, cause, detail)
}

func (c *Client) getHTTPClient() *http.Client {
	if c.client != nil {
		return c.client
	}
	c.client = &http.Client{Timeout: 60 * time.Second}
	return c.client
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return defaultModel
}

func ollamaOptions(options *framework.LLMOptions) map[string]any {
	if options == nil {
		return nil
	}
	out := map[string]any{}
	if options.Temperature != 0 {
		out["temperature"] = options.Temperature
	}
	if options.MaxTokens != 0 {
		out["num_predict"] = options.MaxTokens
	}
	if options.Stop != nil {
		out["stop"] = options.Stop
	}
	if options.TopP != 0 {
		out["top_p"] = options.TopP
	}
	return out
}

func decodeLLMResponse(body io.Reader) (*framework.LLMResponse, error) {
	var raw ollamaResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}
	if raw.Error != "" {
		return nil, errors.New(raw.Error)
	}
	resp := &framework.LLMResponse{
		Text:         raw.Response,
		Model:        raw.Model,
		FinishReason: raw.DoneReason,
		Usage:        normalizeUsage(raw),
	}
	if resp.Text == "" && raw.Message != nil {
		resp.Text = raw.Message.Content
	}
	return resp, nil
}

func normalizeUsage(raw ollamaResponse) map[string]int {
	usage := make(map[string]int)
	if raw.EvalCount > 0 {
		usage["completion_tokens"] = raw.EvalCount
	}
	if raw.PromptEvalCount > 0 {
		usage["prompt_tokens"] = raw.PromptEvalCount
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

func (c *Client) logPayload(path string, payload []byte) {
	if !c.Debug {
		return
	}
	c.logger().Debug("ollama request", "path", path, "payload", truncate(string(payload), 2048))
}

func (c *Client) logResponse(path string, resp []byte) {
	if !c.Debug {
		return
	}
	c.logger().Debug("ollama response", "path", path, "payload", truncate(string(resp), 2048))
}

func (c *Client) logger() *log.Logger {
	if c.Logger == nil {
		return log.Default()
	}
	return c.Logger
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
