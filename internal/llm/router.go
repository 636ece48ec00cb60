package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/stockagent/internal/config"
)

// Router sends each request to the primary provider and falls back to the
// next configured provider when one fails.
type Router struct {
	mu         sync.RWMutex
	providers  map[string]LLMProvider
	primary    string
	fallbacks  []string
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithFallbacks sets the fallback provider chain.
func WithFallbacks(providers ...string) RouterOption {
	return func(r *Router) { r.fallbacks = providers }
}

// WithMaxRetries sets the retry attempts per provider.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.retryDelay = d }
}

// WithRouterLogger sets the logger used to report fallbacks.
func WithRouterLogger(l zerolog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router with the given primary provider name.
func NewRouter(primary string, opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]LLMProvider),
		primary:    primary,
		maxRetries: 1,
		retryDelay: time.Second,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider adds a provider under its Name.
func (r *Router) RegisterProvider(provider LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// GetProvider returns a registered provider by name.
func (r *Router) GetProvider(name string) (LLMProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary returns the primary provider.
func (r *Router) Primary() (LLMProvider, error) {
	p, ok := r.GetProvider(r.primary)
	if !ok {
		return nil, fmt.Errorf("%w: primary provider %q not registered", ErrNoProviders, r.primary)
	}
	return p, nil
}

// Chat tries the primary provider, then each fallback in order.
func (r *Router) Chat(ctx context.Context, messages []Message, tools []Tool, opts *ChatOptions) (*Response, error) {
	var lastErr error
	tried := 0
	for _, name := range r.providerChain() {
		provider, ok := r.GetProvider(name)
		if !ok {
			continue
		}
		tried++

		resp, err := r.chatWithRetry(ctx, provider, messages, tools, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn().Err(err).Str("provider", name).Msg("llm provider failed, trying next")
	}
	if tried == 0 {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("llm: all providers failed: %w", lastErr)
}

// Name reports the primary provider behind the router.
func (r *Router) Name() string {
	return "router/" + r.primary
}

// Models returns the union of models of all registered providers.
func (r *Router) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, name := range r.providerChain() {
		p, ok := r.GetProvider(name)
		if !ok {
			continue
		}
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// Ping checks the primary provider.
func (r *Router) Ping(ctx context.Context) error {
	p, err := r.Primary()
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}

// HealthCheck pings every registered provider concurrently.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make(map[string]LLMProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, provider := range providers {
		wg.Add(1)
		go func(n string, p LLMProvider) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			err := p.Ping(pingCtx)
			mu.Lock()
			results[n] = err
			mu.Unlock()
		}(name, provider)
	}
	wg.Wait()
	return results
}

// ── Internal Helpers ──

func (r *Router) providerChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := []string{r.primary}
	for _, fb := range r.fallbacks {
		if fb != r.primary {
			chain = append(chain, fb)
		}
	}
	return chain
}

func (r *Router) chatWithRetry(ctx context.Context, provider LLMProvider,
	messages []Message, tools []Tool, opts *ChatOptions) (*Response, error) {

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			}
		}
		resp, err := provider.Chat(ctx, messages, tools, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isRetryable reports whether another attempt on the same provider can
// succeed. Key problems and cancellations cannot.
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNoAPIKey), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}

// ════════════════════════════════════════════════════════════════════
// Construction from config
// ════════════════════════════════════════════════════════════════════

// NewProvider builds a single named provider from the LLM config.
func NewProvider(ctx context.Context, name string, cfg config.LLMConfig) (LLMProvider, error) {
	pc := ProviderConfig{
		Model:       modelFor(name, cfg.Model),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
	}
	var (
		p   LLMProvider
		err error
	)
	switch name {
	case ProviderAnthropic:
		pc.APIKey = cfg.AnthropicKey
		p, err = asProvider(NewAnthropicProvider(pc))
	case ProviderOpenAI:
		pc.APIKey = cfg.OpenAIKey
		p, err = asProvider(NewOpenAIProvider(pc))
	case ProviderOllama:
		pc.BaseURL = cfg.OllamaURL
		p, err = asProvider(NewOllamaProvider(pc))
	case ProviderGemini:
		pc.APIKey = cfg.GeminiKey
		p, err = asProvider(NewGeminiProvider(ctx, pc))
	default:
		err = fmt.Errorf("llm: unknown provider %q", name)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// asProvider drops the typed value on error so callers never see a non-nil
// interface holding a nil pointer.
func asProvider[P LLMProvider](p P, err error) (LLMProvider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewFromConfig builds the primary provider. When fallbacks are configured
// the result is a Router over the primary and every fallback that could be
// constructed. A primary without its API key fails with ErrNoAPIKey.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, logger zerolog.Logger) (LLMProvider, error) {
	primary, err := NewProvider(ctx, cfg.Primary, cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	router := NewRouter(cfg.Primary,
		WithFallbacks(cfg.Fallbacks...),
		WithMaxRetries(0),
		WithRouterLogger(logger),
	)
	router.RegisterProvider(primary)
	for _, name := range cfg.Fallbacks {
		if name == cfg.Primary {
			continue
		}
		p, err := NewProvider(ctx, name, cfg)
		if err != nil {
			logger.Warn().Err(err).Str("provider", name).Msg("skipping llm fallback")
			continue
		}
		router.RegisterProvider(p)
	}
	return router, nil
}

// NewEmbedderFromConfig returns an OpenAI embedder when an OpenAI key is
// configured, and false otherwise.
func NewEmbedderFromConfig(cfg config.LLMConfig) (Embedder, bool) {
	if cfg.OpenAIKey == "" {
		return nil, false
	}
	e, err := NewOpenAIEmbedder(ProviderConfig{
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.EmbeddingModel,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, false
	}
	return e, true
}

// modelFor keeps the configured model when it belongs to the provider's
// family and otherwise falls back to the provider default, so that a
// Claude model name is never sent to another vendor.
func modelFor(provider, model string) string {
	family := map[string]string{
		ProviderAnthropic: "claude",
		ProviderGemini:    "gemini",
	}
	defaults := map[string]string{
		ProviderAnthropic: DefaultAnthropicModel,
		ProviderOpenAI:    DefaultOpenAIModel,
		ProviderOllama:    DefaultOllamaModel,
		ProviderGemini:    DefaultGeminiModel,
	}
	if model == "" {
		return defaults[provider]
	}
	switch provider {
	case ProviderOllama:
		if strings.HasPrefix(model, "claude") || strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "gemini") {
			return defaults[provider]
		}
		return model
	case ProviderOpenAI:
		if strings.HasPrefix(model, "gpt") || (len(model) > 1 && model[0] == 'o' && model[1] >= '0' && model[1] <= '9') {
			return model
		}
		return defaults[provider]
	}
	if strings.HasPrefix(model, family[provider]) {
		return model
	}
	return defaults[provider]
}
