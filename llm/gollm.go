package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"

	"github.com/thomcost/sweagent/fault"
)

// GollmClient implements Client on top of a gollm.LLM instance.
type GollmClient struct {
	provider string
	model    string
	llm      gollm.LLM
	est      *Estimator
}

// GollmOption configures a GollmClient.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. When empty, gollm reads it from the
// provider's environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithMaxTokens sets the default completion token cap.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions appends raw gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmClient creates a client for the given provider and model.
func NewGollmClient(provider, model string, opts ...GollmOption) (*GollmClient, error) {
	cfg := &gollmConfig{maxTokens: 4096, temperature: 0.0}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by fault.Retry
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	l, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmClient{
		provider: provider,
		model:    model,
		llm:      l,
		est:      NewEstimator(),
	}, nil
}

// Complete sends a blocking completion request.
func (c *GollmClient) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := c.translateRequest(req)

	if req.Model != "" && req.Model != c.model {
		c.llm.SetOption("model", req.Model)
	}
	if req.MaxTokens > 0 {
		c.llm.SetOption("max_tokens", req.MaxTokens)
	}
	if req.Temperature != nil {
		c.llm.SetOption("temperature", *req.Temperature)
	}

	text, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, c.translateError(err)
	}

	inTokens := c.est.CountMessages(req.Messages)
	outTokens := c.est.Count(text)
	return &Response{
		ID:    "resp_" + uuid.New().String()[:8],
		Model: c.model,
		Text:  text,
		Usage: Usage{
			InputTokens:  inTokens,
			OutputTokens: outTokens,
			TotalTokens:  inTokens + outTokens,
		},
	}, nil
}

// translateRequest flattens the projected conversation into a gollm prompt.
// The system entry becomes the system prompt; assistant and user entries are
// interleaved as labeled context, which is how multi-turn history is carried
// over gollm's single-prompt API.
func (c *GollmClient) translateRequest(req Request) *gollm.Prompt {
	var system string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system += msg.Content + "\n"
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Continue."
	}

	var promptOpts []gollm.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(system), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// translateError classifies a gollm error into the fault taxonomy. gollm
// surfaces provider errors as strings, so classification matches on message
// content.
func (c *GollmClient) translateError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		f := fault.Wrap(fault.RateLimit, err, "provider rate limited")
		f.Provider = c.provider
		f.StatusCode = 429
		if hint := parseRetryAfter(msg); hint > 0 {
			f.RetryAfter = &hint
		}
		return f
	case strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens") ||
		strings.Contains(msg, "maximum context"):
		f := fault.Wrap(fault.ContextTooLarge, err, "request exceeds context window")
		f.Provider = c.provider
		f.StatusCode = 413
		return f
	case strings.Contains(msg, "content filter") || strings.Contains(msg, "safety") ||
		strings.Contains(msg, "content policy"):
		f := fault.Wrap(fault.ContentPolicy, err, "content policy rejection")
		f.Provider = c.provider
		return f
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "403") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "404") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "400") || strings.Contains(msg, "invalid request"):
		f := fault.Wrap(fault.InvalidRequest, err, "provider rejected request")
		f.Provider = c.provider
		return f
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "internal server"):
		f := fault.Wrap(fault.TransientNetwork, err, "transport failure")
		f.Provider = c.provider
		return f
	default:
		f := fault.Wrap(fault.TransientNetwork, err, "unclassified provider error")
		f.Provider = c.provider
		return f
	}
}

// parseRetryAfter extracts a "retry after Ns" hint from an error message.
func parseRetryAfter(msg string) time.Duration {
	idx := strings.Index(msg, "retry after ")
	if idx == -1 {
		return 0
	}
	rest := msg[idx+len("retry after "):]
	seconds := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		seconds = seconds*10 + int(r-'0')
	}
	return time.Duration(seconds) * time.Second
}
