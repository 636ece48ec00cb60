package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
)

// Default models for the OpenAI-compatible providers.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultOllamaModel    = "llama3.1"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

var openaiModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"}

var ollamaModels = []string{"llama3.1", "llama3.2", "qwen2.5", "mistral-nemo"}

// OpenAIProvider implements LLMProvider over the Chat Completions API. The
// same type serves Ollama through its OpenAI-compatible endpoint.
type OpenAIProvider struct {
	name   string
	cfg    ProviderConfig
	client openai.Client
}

// OpenAIOption configures the OpenAI and Ollama providers.
type OpenAIOption func(*openaiSettings)

type openaiSettings struct {
	httpClient *http.Client
	maxRetries int
}

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(s *openaiSettings) { s.httpClient = c }
}

// WithOpenAIMaxRetries sets how often the SDK retries transient failures.
func WithOpenAIMaxRetries(n int) OpenAIOption {
	return func(s *openaiSettings) { s.maxRetries = n }
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg ProviderConfig, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai", ErrNoAPIKey)
	}
	cfg = cfg.withDefaults(DefaultOpenAIModel)
	return &OpenAIProvider{name: ProviderOpenAI, cfg: cfg, client: newOpenAIClient(cfg, opts)}, nil
}

// NewOllamaProvider creates a provider for a local Ollama server. BaseURL is
// the server root, e.g. http://localhost:11434.
func NewOllamaProvider(cfg ProviderConfig, opts ...OpenAIOption) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/v1/"
	if cfg.APIKey == "" {
		cfg.APIKey = "ollama"
	}
	cfg = cfg.withDefaults(DefaultOllamaModel)
	return &OllamaProvider{OpenAIProvider{name: ProviderOllama, cfg: cfg, client: newOpenAIClient(cfg, opts)}}, nil
}

// OllamaProvider is an OpenAIProvider pointed at Ollama.
type OllamaProvider struct {
	OpenAIProvider
}

// Models lists common local models.
func (p *OllamaProvider) Models() []string { return ollamaModels }

func newOpenAIClient(cfg ProviderConfig, opts []OpenAIOption) openai.Client {
	s := openaiSettings{maxRetries: 2}
	for _, o := range opts {
		o(&s)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(s.maxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if s.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.httpClient))
	}
	return openai.NewClient(reqOpts...)
}

func (p *OpenAIProvider) Name() string     { return p.name }
func (p *OpenAIProvider) Models() []string { return openaiModels }

// Ping lists models to verify connectivity and the key.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return openaiError(p.name, err)
	}
	return nil
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []Tool, opts *ChatOptions) (*Response, error) {
	start := time.Now()
	model, temperature, maxTokens := p.cfg.resolve(opts)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	if maxTokens > 0 {
		if p.name == ProviderOllama {
			params.MaxTokens = openai.Int(int64(maxTokens))
		} else {
			params.MaxCompletionTokens = openai.Int(int64(maxTokens))
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, openaiError(p.name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}

	choice := completion.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Model:        completion.Model,
		Provider:     p.name,
		Latency:      time.Since(start),
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	if resp.HasToolCalls() {
		resp.FinishReason = FinishToolCalls
	}
	return resp, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := &openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(m.Content)}
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var desc param.Opt[string]
		if t.Description != "" {
			desc = param.NewOpt(t.Description)
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: desc,
			Parameters:  openai.FunctionParameters(t.Parameters.Map()),
		}))
	}
	return out
}

func mapFinishReason(reason string) FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length":
		return FinishLength
	default:
		return FinishStop
	}
}

func openaiError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(provider, apiErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderDown, provider, err)
}

// --- Embeddings ---

// OpenAIEmbedder implements Embedder with the Embeddings API.
type OpenAIEmbedder struct {
	model  string
	client openai.Client
}

// NewOpenAIEmbedder creates an embedder. An empty model selects
// DefaultEmbeddingModel.
func NewOpenAIEmbedder(cfg ProviderConfig, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai embeddings", ErrNoAPIKey)
	}
	cfg = cfg.withDefaults(DefaultEmbeddingModel)
	return &OpenAIEmbedder{model: cfg.Model, client: newOpenAIClient(cfg, opts)}, nil
}

// Embed returns one vector per input text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, openaiError("openai embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
