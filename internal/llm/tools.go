package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// Tool is a function the model may call.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters"`
	Handler     ToolHandler `json:"-"`
}

// ToolHandler executes a tool call and returns its text result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// JSONSchema is the subset of JSON Schema used for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
}

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(desc string, props map[string]*JSONSchema, required ...string) *JSONSchema {
	return &JSONSchema{Type: "object", Description: desc, Properties: props, Required: required}
}

// StringProp creates a string property.
func StringProp(desc string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: desc}
}

// IntProp creates an integer property.
func IntProp(desc string) *JSONSchema {
	return &JSONSchema{Type: "integer", Description: desc}
}

// SchemaFor reflects the parameter schema of an argument struct. Fields
// without omitempty are required; descriptions come from the
// jsonschema_description tag.
func SchemaFor(v any) (*JSONSchema, error) {
	r := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("llm: reflect schema: %w", err)
	}
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("llm: decode schema: %w", err)
	}
	return &s, nil
}

// MustSchemaFor is SchemaFor for package-level schemas of static types.
func MustSchemaFor(v any) *JSONSchema {
	s, err := SchemaFor(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Map converts the schema into a generic JSON object, the form the SDKs
// accept for tool parameters.
func (s *JSONSchema) Map() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	data, _ := json.Marshal(s)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if s.Type == "object" && m["properties"] == nil {
		m["properties"] = map[string]any{}
	}
	return m
}

// ToolRegistry holds the available tools in registration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; !ok {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// RegisterFunc registers a tool with an inline handler.
func (r *ToolRegistry) RegisterFunc(name, desc string, params *JSONSchema, handler ToolHandler) {
	r.Register(Tool{Name: name, Description: desc, Parameters: params, Handler: handler})
}

// Get retrieves a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the tools in registration order.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs one tool call.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) (string, error) {
	tool, ok := r.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}
	if tool.Handler == nil {
		return "", fmt.Errorf("llm: tool %q has no handler", call.Name)
	}
	return tool.Handler(ctx, call.Arguments)
}

// ExecuteAll runs the calls concurrently and returns results in call order.
func (r *ToolRegistry) ExecuteAll(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c ToolCall) {
			defer wg.Done()
			output, err := r.Execute(ctx, c)
			results[idx] = ToolResult{ToolCallID: c.ID, Name: c.Name, Content: output, Err: err}
		}(i, call)
	}
	wg.Wait()
	return results
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	Err        error  `json:"-"`
}

// ToMessage converts the result into a message for the model. Errors are
// reported as text so the model can recover.
func (tr ToolResult) ToMessage() Message {
	content := tr.Content
	if tr.Err != nil {
		content = fmt.Sprintf("Error executing tool %s: %v", tr.Name, tr.Err)
	}
	return ToolResultMessage(tr.ToolCallID, tr.Name, content)
}

// LoopOption configures RunToolLoop.
type LoopOption func(*loopConfig)

type loopConfig struct {
	observe func(call ToolCall, result ToolResult)
}

// WithObserver is called after every tool call, in call order.
func WithObserver(fn func(call ToolCall, result ToolResult)) LoopOption {
	return func(c *loopConfig) { c.observe = fn }
}

// RunToolLoop drives the tool-calling conversation: send the messages,
// execute any requested tool calls, append their results and repeat until
// the model answers in text or maxIterations model calls have been made.
// It returns the final response and the full transcript.
func RunToolLoop(ctx context.Context, provider LLMProvider, registry *ToolRegistry,
	messages []Message, opts *ChatOptions, maxIterations int, loopOpts ...LoopOption) (*Response, []Message, error) {

	if maxIterations <= 0 {
		maxIterations = 10
	}
	var cfg loopConfig
	for _, o := range loopOpts {
		o(&cfg)
	}

	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	tools := registry.List()

	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, msgs, err
		}
		resp, err := provider.Chat(ctx, msgs, tools, opts)
		if err != nil {
			return nil, msgs, err
		}
		if !resp.HasToolCalls() {
			msgs = append(msgs, AssistantMessage(resp.Content))
			return resp, msgs, nil
		}

		msgs = append(msgs, AssistantToolCallMessage(resp.Content, resp.ToolCalls))
		results := registry.ExecuteAll(ctx, resp.ToolCalls)
		for j, result := range results {
			if cfg.observe != nil {
				cfg.observe(resp.ToolCalls[j], result)
			}
			msgs = append(msgs, result.ToMessage())
		}
	}

	return nil, msgs, fmt.Errorf("%w (%d)", ErrMaxIterations, maxIterations)
}
