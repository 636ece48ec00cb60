package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seenimoa/stockagent/internal/config"
)

// mockProvider is a scripted LLMProvider.
type mockProvider struct {
	name     string
	mu       sync.Mutex
	calls    int
	chatFunc func(ctx context.Context, messages []Message, tools []Tool, opts *ChatOptions) (*Response, error)
}

func (m *mockProvider) Name() string                   { return m.name }
func (m *mockProvider) Models() []string               { return []string{m.name + "-model"} }
func (m *mockProvider) Ping(ctx context.Context) error { return nil }

func (m *mockProvider) Chat(ctx context.Context, messages []Message, tools []Tool, opts *ChatOptions) (*Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.chatFunc(ctx, messages, tools, opts)
}

// ════════════════════════════════════════════════════════════════════
// provider.go — Types & Helpers
// ════════════════════════════════════════════════════════════════════

func TestMessageConstructors(t *testing.T) {
	sys := SystemMessage("You are helpful.")
	if sys.Role != RoleSystem || sys.Content != "You are helpful." {
		t.Fatalf("SystemMessage: got %+v", sys)
	}
	tool := ToolResultMessage("call_1", "parse_price_data", "$185.64")
	if tool.Role != RoleTool || tool.ToolCallID != "call_1" || tool.Name != "parse_price_data" {
		t.Fatalf("ToolResultMessage: got %+v", tool)
	}
	tc := AssistantToolCallMessage("checking", []ToolCall{{ID: "c1", Name: "fn"}})
	if tc.Role != RoleAssistant || tc.Content != "checking" || len(tc.ToolCalls) != 1 {
		t.Fatalf("AssistantToolCallMessage: got %+v", tc)
	}
}

func TestResponseString(t *testing.T) {
	r := &Response{Provider: "anthropic", Model: "claude", Content: "short", Usage: Usage{TotalTokens: 50}, Latency: 100 * time.Millisecond}
	if s := r.String(); !strings.Contains(s, "anthropic/claude") || !strings.Contains(s, "50 tokens") {
		t.Fatalf("unexpected String(): %s", s)
	}
	r.ToolCalls = []ToolCall{{ID: "1", Name: "fn"}}
	if s := r.String(); !strings.Contains(s, "1 tool call") {
		t.Fatalf("unexpected String() with tools: %s", s)
	}
	r.ToolCalls = nil
	r.Content = strings.Repeat("x", 200)
	if s := r.String(); !strings.Contains(s, "...") {
		t.Fatalf("long content should be truncated: %s", s)
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		SystemMessage("a"), UserMessage("q"), SystemMessage("b"),
	})
	if system != "a\n\nb" {
		t.Fatalf("system: got %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "q" {
		t.Fatalf("rest: got %+v", rest)
	}
}

func TestResolveOptions(t *testing.T) {
	cfg := ProviderConfig{Model: "m", Temperature: 0.1, MaxTokens: 100}
	model, temp, maxTok := cfg.resolve(nil)
	if model != "m" || temp != 0.1 || maxTok != 100 {
		t.Fatalf("defaults: %s %v %d", model, temp, maxTok)
	}
	model, temp, maxTok = cfg.resolve(&ChatOptions{Model: "x", Temperature: 0.7, MaxTokens: 5})
	if model != "x" || temp != 0.7 || maxTok != 5 {
		t.Fatalf("overrides: %s %v %d", model, temp, maxTok)
	}
}

func TestComplete(t *testing.T) {
	p := &mockProvider{name: "test", chatFunc: func(_ context.Context, msgs []Message, tools []Tool, _ *ChatOptions) (*Response, error) {
		if len(msgs) != 2 || msgs[0].Role != RoleSystem || tools != nil {
			t.Errorf("unexpected request: %+v", msgs)
		}
		return &Response{Content: "df['Close'].mean()"}, nil
	}}
	out, err := Complete(context.Background(), p, "sys", "q")
	if err != nil || out != "df['Close'].mean()" {
		t.Fatalf("Complete: %q, %v", out, err)
	}
}

// ════════════════════════════════════════════════════════════════════
// tools.go — Registry & Tool Loop
// ════════════════════════════════════════════════════════════════════

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echo " + name,
		Parameters:  ObjectSchema("", map[string]*JSONSchema{"input": StringProp("question")}, "input"),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return name + ":" + string(args), nil
		},
	}
}

func TestToolRegistryOrder(t *testing.T) {
	r := NewToolRegistry()
	for _, n := range []string{"parse_price_data", "parse_financial_data", "parse_metrics", "parse_news"} {
		r.Register(echoTool(n))
	}
	r.Register(echoTool("parse_metrics")) // replace keeps position

	got := r.Names()
	want := []string{"parse_price_data", "parse_financial_data", "parse_metrics", "parse_news"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Names: got %v", got)
	}
	if r.Count() != 4 || len(r.List()) != 4 {
		t.Fatalf("Count: got %d", r.Count())
	}
}

func TestToolRegistryExecute(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool("a"))

	out, err := r.Execute(context.Background(), ToolCall{Name: "a", Arguments: json.RawMessage(`{"input":"x"}`)})
	if err != nil || out != `a:{"input":"x"}` {
		t.Fatalf("Execute: %q, %v", out, err)
	}
	_, err = r.Execute(context.Background(), ToolCall{Name: "missing"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}

	results := r.ExecuteAll(context.Background(), []ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "missing"}})
	if results[0].ToolCallID != "1" || results[0].Err != nil || results[1].Err == nil {
		t.Fatalf("ExecuteAll: %+v", results)
	}
	msg := results[1].ToMessage()
	if msg.Role != RoleTool || !strings.Contains(msg.Content, "Error executing tool missing") {
		t.Fatalf("ToMessage: %+v", msg)
	}
}

func TestSchemaMap(t *testing.T) {
	m := ObjectSchema("", map[string]*JSONSchema{"input": StringProp("q")}, "input").Map()
	props, ok := m["properties"].(map[string]any)
	if !ok || props["input"] == nil {
		t.Fatalf("properties: %+v", m)
	}
	if m["type"] != "object" {
		t.Fatalf("type: %v", m["type"])
	}
	empty := (*JSONSchema)(nil).Map()
	if _, ok := empty["properties"]; !ok {
		t.Fatal("nil schema must still declare properties")
	}
}

func TestSchemaFor(t *testing.T) {
	type args struct {
		Input string `json:"input" jsonschema_description:"the question"`
		Limit int    `json:"limit,omitempty"`
	}
	s, err := SchemaFor(&args{})
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	if s.Type != "object" {
		t.Fatalf("type = %q", s.Type)
	}
	in := s.Properties["input"]
	if in == nil || in.Type != "string" || in.Description != "the question" {
		t.Fatalf("input property: %+v", in)
	}
	if lim := s.Properties["limit"]; lim == nil || lim.Type != "integer" {
		t.Fatalf("limit property: %+v", lim)
	}
	if len(s.Required) != 1 || s.Required[0] != "input" {
		t.Fatalf("required = %v", s.Required)
	}
}

func TestRunToolLoop(t *testing.T) {
	provider := &mockProvider{name: "test"}
	provider.chatFunc = func(ctx context.Context, messages []Message, tools []Tool, opts *ChatOptions) (*Response, error) {
		if len(tools) != 1 {
			t.Errorf("expected registry tools to be sent, got %d", len(tools))
		}
		if provider.calls == 1 {
			return &Response{
				Content:      "Let me look.",
				ToolCalls:    []ToolCall{{ID: "call_1", Name: "parse_price_data", Arguments: json.RawMessage(`{"input":"avg close"}`)}},
				FinishReason: FinishToolCalls,
			}, nil
		}
		last := messages[len(messages)-1]
		if last.Role != RoleTool || last.ToolCallID != "call_1" {
			t.Errorf("tool result not fed back: %+v", last)
		}
		return &Response{Content: "The average close was $185.64.", FinishReason: FinishStop}, nil
	}

	registry := NewToolRegistry()
	registry.Register(echoTool("parse_price_data"))

	var observed []string
	resp, msgs, err := RunToolLoop(context.Background(), provider, registry,
		[]Message{UserMessage("Average close?")}, nil, 5,
		WithObserver(func(call ToolCall, result ToolResult) { observed = append(observed, call.Name) }))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "The average close was $185.64." {
		t.Fatalf("unexpected content: %s", resp.Content)
	}
	// user + assistant tool call + tool result + final assistant
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "Let me look." {
		t.Fatalf("assistant text lost: %+v", msgs[1])
	}
	if len(observed) != 1 || observed[0] != "parse_price_data" {
		t.Fatalf("observer: %v", observed)
	}
}

func TestRunToolLoopMaxIterations(t *testing.T) {
	provider := &mockProvider{name: "test", chatFunc: func(context.Context, []Message, []Tool, *ChatOptions) (*Response, error) {
		return &Response{ToolCalls: []ToolCall{{ID: "c1", Name: "fn", Arguments: json.RawMessage(`{}`)}}}, nil
	}}
	registry := NewToolRegistry()
	registry.Register(echoTool("fn"))

	_, _, err := RunToolLoop(context.Background(), provider, registry, []Message{UserMessage("x")}, nil, 3)
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got: %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", provider.calls)
	}
}

func TestRunToolLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &mockProvider{name: "test", chatFunc: func(context.Context, []Message, []Tool, *ChatOptions) (*Response, error) {
		t.Fatal("provider must not be called")
		return nil, nil
	}}
	_, _, err := RunToolLoop(ctx, provider, NewToolRegistry(), []Message{UserMessage("x")}, nil, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// anthropic.go
// ════════════════════════════════════════════════════════════════════

func TestAnthropicProviderNew(t *testing.T) {
	if _, err := NewAnthropicProvider(ProviderConfig{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	p, err := NewAnthropicProvider(ProviderConfig{APIKey: "sk-ant"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderAnthropic || p.cfg.Model != DefaultAnthropicModel {
		t.Fatalf("unexpected provider: %s %s", p.Name(), p.cfg.Model)
	}
}

func TestAnthropicChatWithToolUse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "sk-ant" {
			t.Errorf("missing api key header")
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5-20250929",
			"content":[
				{"type":"text","text":"Checking prices."},
				{"type":"tool_use","id":"tu_1","name":"parse_price_data","input":{"input":"latest close"}}
			],
			"stop_reason":"tool_use","stop_sequence":null,
			"usage":{"input_tokens":12,"output_tokens":8}
		}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(ProviderConfig{APIKey: "sk-ant", BaseURL: srv.URL}, WithAnthropicMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(), []Message{
		SystemMessage("be precise"),
		UserMessage("latest close?"),
	}, []Tool{echoTool("parse_price_data")}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "Checking prices." || resp.FinishReason != FinishToolCalls {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "tu_1" || resp.ToolCalls[0].Name != "parse_price_data" {
		t.Fatalf("tool calls: %+v", resp.ToolCalls)
	}
	var args map[string]string
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &args); err != nil || args["input"] != "latest close" {
		t.Fatalf("arguments: %s", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 20 {
		t.Fatalf("usage: %+v", resp.Usage)
	}

	if body["model"] != DefaultAnthropicModel {
		t.Fatalf("model sent: %v", body["model"])
	}
	if _, ok := body["system"]; !ok {
		t.Fatal("system prompt not sent")
	}
	if tools, ok := body["tools"].([]any); !ok || len(tools) != 1 {
		t.Fatalf("tools sent: %v", body["tools"])
	}
	if msgs, ok := body["messages"].([]any); !ok || len(msgs) != 1 {
		t.Fatalf("system message must not be sent as a turn: %v", body["messages"])
	}
}

func TestAnthropicErrorHandling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	p, _ := NewAnthropicProvider(ProviderConfig{APIKey: "bad", BaseURL: srv.URL}, WithAnthropicMaxRetries(0))
	_, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil, nil)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestToAnthropicMessagesGroupsToolResults(t *testing.T) {
	msgs := toAnthropicMessages([]Message{
		UserMessage("q"),
		AssistantToolCallMessage("", []ToolCall{
			{ID: "a", Name: "f", Arguments: json.RawMessage(`{"input":"1"}`)},
			{ID: "b", Name: "g", Arguments: json.RawMessage(`{"input":"2"}`)},
		}),
		ToolResultMessage("a", "f", "one"),
		ToolResultMessage("b", "g", "two"),
		AssistantMessage("done"),
	})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if len(msgs[2].Content) != 2 {
		t.Fatalf("tool results should share one user message, got %d blocks", len(msgs[2].Content))
	}
}

// ════════════════════════════════════════════════════════════════════
// openai.go
// ════════════════════════════════════════════════════════════════════

func openAIServer(t *testing.T, reply string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			data, _ := io.ReadAll(r.Body)
			if capture != nil {
				_ = json.Unmarshal(data, capture)
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, reply)
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"object":"list","model":"text-embedding-3-small",
				"data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],
				"usage":{"prompt_tokens":2,"total_tokens":2}}`)
		case strings.HasSuffix(r.URL.Path, "/models"):
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","created":1,"owned_by":"openai"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIChatWithToolCalls(t *testing.T) {
	var body map[string]any
	srv := openAIServer(t, `{
		"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
		"choices":[{"index":0,"finish_reason":"tool_calls","logprobs":null,
			"message":{"role":"assistant","content":null,"refusal":null,
				"tool_calls":[{"id":"call_1","type":"function","function":{"name":"parse_metrics","arguments":"{\"input\":\"pe ratio\"}"}}]}}],
		"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}
	}`, &body)

	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "sk", BaseURL: srv.URL + "/v1/"}, WithOpenAIMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(), []Message{
		SystemMessage("sys"),
		UserMessage("pe?"),
		AssistantToolCallMessage("", []ToolCall{{ID: "call_0", Name: "parse_metrics", Arguments: json.RawMessage(`{"input":"x"}`)}}),
		ToolResultMessage("call_0", "parse_metrics", "29.5"),
	}, []Tool{echoTool("parse_metrics")}, &ChatOptions{Temperature: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != FinishToolCalls || len(resp.ToolCalls) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ToolCalls[0].ID != "call_1" || string(resp.ToolCalls[0].Arguments) != `{"input":"pe ratio"}` {
		t.Fatalf("tool call: %+v", resp.ToolCalls[0])
	}
	if resp.Usage.TotalTokens != 5 || resp.Provider != ProviderOpenAI {
		t.Fatalf("usage/provider: %+v", resp)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages sent: %v", body["messages"])
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Fatalf("tools sent: %v", body["tools"])
	}
	if body["temperature"] != 0.2 {
		t.Fatalf("temperature sent: %v", body["temperature"])
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := openAIServer(t, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil)
	p, _ := NewOpenAIProvider(ProviderConfig{APIKey: "sk", BaseURL: srv.URL + "/v1/"}, WithOpenAIMaxRetries(0))
	_, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil, nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit"}}`)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider(ProviderConfig{APIKey: "sk", BaseURL: srv.URL + "/v1/"}, WithOpenAIMaxRetries(0))
	_, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil, nil)
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

func TestOllamaProvider(t *testing.T) {
	srv := openAIServer(t, `{
		"id":"c1","object":"chat.completion","created":1,"model":"llama3.1",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}]
	}`, nil)

	p, err := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderOllama || p.Models()[0] != "llama3.1" {
		t.Fatalf("unexpected provider: %s", p.Name())
	}
	resp, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" || resp.Provider != ProviderOllama {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := openAIServer(t, "", nil)
	e, err := NewOpenAIEmbedder(ProviderConfig{APIKey: "sk", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors must follow input order: %v", vecs)
	}
	if _, err := NewOpenAIEmbedder(ProviderConfig{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]FinishReason{"stop": FinishStop, "length": FinishLength, "tool_calls": FinishToolCalls, "": FinishStop}
	for in, want := range cases {
		if got := mapFinishReason(in); got != want {
			t.Errorf("mapFinishReason(%q) = %s, want %s", in, got, want)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// gemini.go
// ════════════════════════════════════════════════════════════════════

func TestGeminiChatWithFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"candidates":[{"content":{"role":"model","parts":[
				{"text":"Looking up news."},
				{"functionCall":{"name":"parse_news","args":{"input":"latest headlines"}}}
			]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}
		}`)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), ProviderConfig{APIKey: "g", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(), []Message{SystemMessage("sys"), UserMessage("news?")},
		[]Tool{echoTool("parse_news")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Looking up news." || len(resp.ToolCalls) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	call := resp.ToolCalls[0]
	if call.Name != "parse_news" || call.ID == "" || string(call.Arguments) != `{"input":"latest headlines"}` {
		t.Fatalf("tool call: %+v", call)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage: %+v", resp.Usage)
	}
}

func TestGeminiProviderNew(t *testing.T) {
	if _, err := NewGeminiProvider(context.Background(), ProviderConfig{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestToGeminiContents(t *testing.T) {
	contents := toGeminiContents([]Message{
		UserMessage("q"),
		AssistantToolCallMessage("", []ToolCall{{ID: "a", Name: "f", Arguments: json.RawMessage(`{"input":"1"}`)}}),
		ToolResultMessage("a", "f", "one"),
	})
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" || contents[1].Parts[0].FunctionCall == nil {
		t.Fatalf("assistant turn: %+v", contents[1])
	}
	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "f" || fr.Response["output"] != "one" {
		t.Fatalf("function response: %+v", fr)
	}
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema(ObjectSchema("", map[string]*JSONSchema{"input": StringProp("q")}, "input"))
	if s.Type != "OBJECT" || s.Properties["input"].Type != "STRING" || s.Required[0] != "input" {
		t.Fatalf("schema: %+v", s)
	}
}

// ════════════════════════════════════════════════════════════════════
// router.go
// ════════════════════════════════════════════════════════════════════

func TestRouterFallback(t *testing.T) {
	down := &mockProvider{name: "anthropic", chatFunc: func(context.Context, []Message, []Tool, *ChatOptions) (*Response, error) {
		return nil, ErrProviderDown
	}}
	up := &mockProvider{name: "openai", chatFunc: func(context.Context, []Message, []Tool, *ChatOptions) (*Response, error) {
		return &Response{Content: "ok"}, nil
	}}
	r := NewRouter("anthropic", WithFallbacks("openai"), WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	r.RegisterProvider(down)
	r.RegisterProvider(up)

	resp, err := r.Chat(context.Background(), []Message{UserMessage("hi")}, nil, nil)
	if err != nil || resp.Content != "ok" {
		t.Fatalf("Chat: %+v, %v", resp, err)
	}
	if down.calls != 2 {
		t.Fatalf("primary should be retried once, got %d calls", down.calls)
	}
	if r.Name() != "router/anthropic" || len(r.Models()) != 2 {
		t.Fatalf("Name/Models: %s %v", r.Name(), r.Models())
	}
}

func TestRouterKeyErrorNotRetried(t *testing.T) {
	bad := &mockProvider{name: "anthropic", chatFunc: func(context.Context, []Message, []Tool, *ChatOptions) (*Response, error) {
		return nil, ErrNoAPIKey
	}}
	r := NewRouter("anthropic", WithMaxRetries(3))
	r.RegisterProvider(bad)

	_, err := r.Chat(context.Background(), []Message{UserMessage("hi")}, nil, nil)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	if bad.calls != 1 {
		t.Fatalf("key errors must not be retried, got %d calls", bad.calls)
	}
}

func TestRouterNoProviders(t *testing.T) {
	r := NewRouter("anthropic")
	if _, err := r.Chat(context.Background(), nil, nil, nil); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if err := r.Ping(context.Background()); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("Ping: expected ErrNoProviders, got %v", err)
	}
}

func TestRouterHealthCheck(t *testing.T) {
	r := NewRouter("a")
	r.RegisterProvider(&mockProvider{name: "a"})
	r.RegisterProvider(&mockProvider{name: "b"})
	res := r.HealthCheck(context.Background())
	if len(res) != 2 || res["a"] != nil {
		t.Fatalf("HealthCheck: %v", res)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.LLMConfig{Primary: "anthropic", Model: DefaultAnthropicModel, TimeoutSec: 5}
	if _, err := NewFromConfig(context.Background(), cfg, zerolog.Nop()); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}

	cfg.AnthropicKey = "sk-ant"
	p, err := NewFromConfig(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderAnthropic {
		t.Fatalf("expected anthropic, got %s", p.Name())
	}

	cfg.Fallbacks = []string{"openai", "ollama"}
	p, err = NewFromConfig(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	router, ok := p.(*Router)
	if !ok {
		t.Fatalf("expected router, got %T", p)
	}
	if _, ok := router.GetProvider("openai"); ok {
		t.Fatal("openai without a key must be skipped")
	}
	if _, ok := router.GetProvider("ollama"); !ok {
		t.Fatal("ollama needs no key and should be registered")
	}

	if _, err := NewProvider(context.Background(), "bogus", cfg); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestNewEmbedderFromConfig(t *testing.T) {
	if _, ok := NewEmbedderFromConfig(config.LLMConfig{}); ok {
		t.Fatal("no key, no embedder")
	}
	if _, ok := NewEmbedderFromConfig(config.LLMConfig{OpenAIKey: "sk"}); !ok {
		t.Fatal("expected embedder")
	}
}

func TestModelFor(t *testing.T) {
	cases := []struct {
		provider, model, want string
	}{
		{ProviderAnthropic, "claude-sonnet-4-5-20250929", "claude-sonnet-4-5-20250929"},
		{ProviderOpenAI, "claude-sonnet-4-5-20250929", DefaultOpenAIModel},
		{ProviderOpenAI, "gpt-4.1", "gpt-4.1"},
		{ProviderOpenAI, "o3-mini", "o3-mini"},
		{ProviderGemini, "claude-x", DefaultGeminiModel},
		{ProviderOllama, "qwen2.5:7b", "qwen2.5:7b"},
		{ProviderOllama, "claude-x", DefaultOllamaModel},
		{ProviderAnthropic, "", DefaultAnthropicModel},
	}
	for _, c := range cases {
		if got := modelFor(c.provider, c.model); got != c.want {
			t.Errorf("modelFor(%s, %s) = %s, want %s", c.provider, c.model, got, c.want)
		}
	}
}
