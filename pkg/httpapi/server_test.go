package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"axon/pkg/agent"
	"axon/pkg/api"
	"axon/pkg/automation"
	"axon/pkg/plugin"
	"axon/pkg/store"

	jsoniter "github.com/json-iterator/go"
)

type apiModel struct {
	reply string
	fail  bool
}

func (m *apiModel) Shutdown(_ context.Context) error { return nil }

func (m *apiModel) ListModels(_ context.Context) ([]api.ModelInfo, error) {
	return []api.ModelInfo{{ID: "m1", Name: "m1"}}, nil
}

func (m *apiModel) Generate(_ context.Context, _ api.GenerateRequest) (*api.GenerateResponse, error) {
	if m.fail {
		return nil, errors.New("backend unavailable")
	}
	return &api.GenerateResponse{Content: m.reply}, nil
}

type apiHarness struct {
	server *Server
	model  *apiModel
	store  *store.Memory
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	ctx := context.Background()

	model := &apiModel{reply: "pong"}
	registry := plugin.NewRegistry(nil)
	plugin.RegisterType("api-model-"+t.Name(), plugin.FactoryFunc(func(_ jsoniter.RawMessage) (api.Plugin, error) {
		return model, nil
	}))
	if _, err := registry.AddInstance(ctx, "api-model-"+t.Name(), nil, "prov-1"); err != nil {
		t.Fatalf("add model: %v", err)
	}

	mem := store.NewMemory()
	if err := mem.SaveAssistant(ctx, api.AssistantConfig{
		ID:            "asst-1",
		LLMProviderID: "prov-1",
		LLMModel:      "m1",
	}); err != nil {
		t.Fatalf("save assistant: %v", err)
	}

	engine := agent.NewEngine(registry, mem, nil)
	invoker := automation.NewInvoker(engine, registry, mem, mem, nil)
	srv := NewServer(":0", engine, registry, invoker, mem, nil)

	return &apiHarness{server: srv, model: model, store: mem}
}

// do runs one request through the route table and returns the recorder.
func (h *apiHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.server.httpSrv.Handler.ServeHTTP(w, r)
	return w
}

func TestChatHappyPath(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodPost, "/api/assistants/asst-1/chat", `{"messages":[{"role":"user","content":"ping"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "pong" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestErrorTaxonomyStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		method     string
		path       string
		body       string
		prepare    func(t *testing.T, h *apiHarness)
		wantStatus int
	}{
		{
			name:       "unknown assistant is 404",
			method:     http.MethodPost,
			path:       "/api/assistants/ghost/chat",
			body:       `{"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown instance is 404",
			method:     http.MethodGet,
			path:       "/api/instances/ghost/models",
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "disabled instance is 409",
			method: http.MethodGet,
			path:   "/api/instances/prov-1/models",
			prepare: func(t *testing.T, h *apiHarness) {
				if w := h.do(http.MethodPost, "/api/instances/prov-1/toggle", ""); w.Code != http.StatusOK {
					t.Fatalf("toggle: %d", w.Code)
				}
			},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "empty message list is 400",
			method:     http.MethodPost,
			path:       "/api/assistants/asst-1/chat",
			body:       `{"messages":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body is 400",
			method:     http.MethodPost,
			path:       "/api/assistants/asst-1/chat",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "backend failure is 502",
			method: http.MethodPost,
			path:   "/api/assistants/asst-1/chat",
			body:   `{"messages":[{"role":"user","content":"hi"}]}`,
			prepare: func(_ *testing.T, h *apiHarness) {
				h.model.fail = true
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAPIHarness(t)
			if tc.prepare != nil {
				tc.prepare(t, h)
			}
			w := h.do(tc.method, tc.path, tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

func TestGenerateForProviderEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodPost, "/api/providers/prov-1/generate", `{"model":"m1","messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp api.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "pong" {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestSaveAutomationValidation(t *testing.T) {
	h := newAPIHarness(t)

	// Missing delivery target must be rejected before anything is stored.
	w := h.do(http.MethodPost, "/api/automations/", `{"id":"auto-1","cron":"@daily","assistant_id":"asst-1","prompt":"p"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if _, err := h.store.Automation(context.Background(), "auto-1"); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("rejected automation was stored: %v", err)
	}

	// A complete record round-trips and is runnable.
	w = h.do(http.MethodPost, "/api/automations/", `{"id":"auto-1","cron":"@daily","assistant_id":"asst-1","prompt":"p","delivery_channel_id":"chan-1","delivery_chat_id":"42","enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := h.store.Automation(context.Background(), "auto-1"); err != nil {
		t.Fatalf("Automation: %v", err)
	}
}

func TestBindChannelVerifiesAssistant(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodPost, "/api/channels/chan-1/bind", `{"assistant_id":"ghost"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	w = h.do(http.MethodPost, "/api/channels/chan-1/bind", `{"assistant_id":"asst-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	id, err := h.store.AssistantForChannel(context.Background(), "chan-1")
	if err != nil || id != "asst-1" {
		t.Fatalf("binding = %q, %v", id, err)
	}
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	if w := h.do(http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
