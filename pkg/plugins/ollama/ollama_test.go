package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"axon/pkg/api"

	ollamaapi "github.com/ollama/ollama/api"
)

// fakeServer serves /api/chat with a canned non-streaming response and
// records the decoded request for assertions.
func fakeServer(t *testing.T, respond string) (*httptest.Server, *ollamaapi.ChatRequest) {
	t.Helper()
	var got ollamaapi.ChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(respond)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestGenerateParsesToolCallArguments(t *testing.T) {
	// The Ollama client reads responses as newline-delimited JSON, so
	// the canned body must stay on one line.
	srv, got := fakeServer(t, `{"model": "m1", "message": {"role": "assistant", "content": "", "tool_calls": [{"function": {"name": "get_weather", "arguments": {"city": "Oslo", "days": 3}}}]}, "done": true, "prompt_eval_count": 11, "eval_count": 7}`)

	o, err := New(Config{BaseURL: srv.URL, DefaultModel: "m1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := o.Generate(context.Background(), api.GenerateRequest{
		Messages: []api.Message{api.NewUserMessage("weather in Oslo?")},
		Tools: []api.ToolSchema{{
			Name:        "get_weather",
			Description: "Weather lookup",
			Parameters: []api.ToolParameter{
				{Name: "city", Type: "string", Required: true},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(out.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	tc := out.ToolCalls[0]
	if tc.Name != "get_weather" || tc.ID != "get_weather-0" {
		t.Fatalf("tool call = %+v", tc)
	}
	if tc.Input["city"] != "Oslo" {
		t.Fatalf("arguments not mapped: %+v", tc.Input)
	}
	if out.Usage == nil || out.Usage.TotalTokens != 18 {
		t.Fatalf("usage = %+v", out.Usage)
	}

	// The outbound request carried the converted tool schema and
	// requested a non-streaming response.
	if got.Stream == nil || *got.Stream {
		t.Fatal("request must disable streaming")
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "get_weather" {
		t.Fatalf("request tools = %+v", got.Tools)
	}
}

func TestGenerateEmptyArgumentsBecomeEmptyMap(t *testing.T) {
	srv, _ := fakeServer(t, `{"model": "m1", "message": {"role": "assistant", "content": "", "tool_calls": [{"function": {"name": "ping", "arguments": {}}}]}, "done": true}`)

	o, err := New(Config{BaseURL: srv.URL, DefaultModel: "m1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := o.Generate(context.Background(), api.GenerateRequest{
		Messages: []api.Message{api.NewUserMessage("ping")},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	if out.ToolCalls[0].Input == nil || len(out.ToolCalls[0].Input) != 0 {
		t.Fatalf("input = %#v, want empty non-nil map", out.ToolCalls[0].Input)
	}
}

func TestGenerateRoundTripsHistoryToolCalls(t *testing.T) {
	srv, got := fakeServer(t, `{"model": "m1", "message": {"role": "assistant", "content": "done"}, "done": true}`)

	o, err := New(Config{BaseURL: srv.URL, DefaultModel: "m1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	assistantTurn := api.NewAssistantMessage("")
	assistantTurn.ToolCalls = []api.ToolCall{
		{ID: "get_weather-0", Name: "get_weather", Input: map[string]any{"city": "Oslo"}},
	}
	if _, err := o.Generate(context.Background(), api.GenerateRequest{
		Messages: []api.Message{
			api.NewUserMessage("weather?"),
			assistantTurn,
		},
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(got.Messages) != 2 {
		t.Fatalf("request messages = %+v", got.Messages)
	}
	replayed := got.Messages[1].ToolCalls
	if len(replayed) != 1 || replayed[0].Function.Name != "get_weather" {
		t.Fatalf("replayed tool calls = %+v", replayed)
	}
	if replayed[0].Function.Arguments.ToMap()["city"] != "Oslo" {
		t.Fatalf("replayed arguments = %+v", replayed[0].Function.Arguments)
	}
}

func TestGenerateRequiresModel(t *testing.T) {
	srv, _ := fakeServer(t, `{}`)
	o, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = o.Generate(context.Background(), api.GenerateRequest{
		Messages: []api.Message{api.NewUserMessage("hi")},
	})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
