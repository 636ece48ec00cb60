package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

var geminiModels = []string{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash"}

// GeminiProvider implements LLMProvider over the Gemini API.
type GeminiProvider struct {
	cfg    ProviderConfig
	client *genai.Client
}

// GeminiOption configures the Gemini provider.
type GeminiOption func(*genai.ClientConfig)

// WithGeminiHTTPClient sets a custom HTTP client.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(cc *genai.ClientConfig) { cc.HTTPClient = c }
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg ProviderConfig, opts ...GeminiOption) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini", ErrNoAPIKey)
	}
	cfg = cfg.withDefaults(DefaultGeminiModel)

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cc.HTTPClient == nil {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	for _, o := range opts {
		o(cc)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{cfg: cfg, client: client}, nil
}

func (p *GeminiProvider) Name() string     { return ProviderGemini }
func (p *GeminiProvider) Models() []string { return geminiModels }

// Ping sends a one-token request to verify the key.
func (p *GeminiProvider) Ping(ctx context.Context) error {
	_, err := p.client.Models.GenerateContent(ctx, p.cfg.Model,
		[]*genai.Content{genai.NewContentFromText("hi", genai.RoleUser)},
		&genai.GenerateContentConfig{MaxOutputTokens: 1})
	if err != nil {
		return geminiError(err)
	}
	return nil
}

// Chat sends a generateContent request.
func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, tools []Tool, opts *ChatOptions) (*Response, error) {
	start := time.Now()
	model, temperature, maxTokens := p.cfg.resolve(opts)

	system, turns := splitSystem(messages)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiFunctions(tools)}}
	}

	result, err := p.client.Models.GenerateContent(ctx, model, toGeminiContents(turns), config)
	if err != nil {
		return nil, geminiError(err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	cand := result.Candidates[0]
	resp := &Response{
		Model:        model,
		Provider:     ProviderGemini,
		Latency:      time.Since(start),
		FinishReason: FinishStop,
	}
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		resp.FinishReason = FinishLength
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
			continue
		}
		if !part.Thought {
			text.WriteString(part.Text)
		}
	}
	resp.Content = text.String()
	if resp.HasToolCalls() {
		resp.FinishReason = FinishToolCalls
	}
	return resp, nil
}

// toGeminiContents maps turns onto user/model contents. Consecutive tool
// results travel together as function responses in one user content.
func toGeminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	var responses []*genai.Part
	flush := func() {
		if len(responses) > 0 {
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: responses})
			responses = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			responses = append(responses, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: map[string]any{"output": m.Content},
			}})
		case RoleAssistant:
			flush()
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &args)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		default:
			flush()
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	flush()
	return out
}

func toGeminiFunctions(tools []Tool) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.Parameters),
		})
	}
	return out
}

func toGeminiSchema(s *JSONSchema) *genai.Schema {
	if s == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGeminiSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toGeminiSchema(s.Items)
	}
	return out
}

func geminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: gemini: %v", ErrProviderDown, err)
}
