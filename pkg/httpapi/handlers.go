package httpapi

import (
	"fmt"
	"net/http"

	"axon/pkg/api"
	"axon/pkg/plugin"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

// --- instances ---

func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListInstances())
}

type addInstanceRequest struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	DisplayName string              `json:"display_name"`
	Enabled     *bool               `json:"enabled"`
	Config      jsoniter.RawMessage `json:"config"`
}

func (s *Server) handleAddInstance(w http.ResponseWriter, r *http.Request) {
	var req addInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Type == "" {
		writeError(w, fmt.Errorf("missing plugin type: %w", api.ErrValidation))
		return
	}

	var opts []plugin.Option
	if req.DisplayName != "" {
		opts = append(opts, plugin.WithDisplayName(req.DisplayName))
	}
	if req.Enabled != nil && !*req.Enabled {
		opts = append(opts, plugin.Disabled())
	}

	inst, err := s.registry.AddInstance(r.Context(), req.Type, req.Config, req.ID, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config jsoniter.RawMessage `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.registry.Reconfigure(r.Context(), id, req.Config); err != nil {
		writeError(w, err)
		return
	}
	inst, _ := s.registry.Get(id)
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.registry.ToggleEnabled(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) handleRemoveInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RemoveInstance(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	model, err := s.registry.Model(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	models, err := model.ListModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// --- assistants ---

func (s *Server) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	assistants, err := s.store.Assistants(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assistants)
}

func (s *Server) handleSaveAssistant(w http.ResponseWriter, r *http.Request) {
	var cfg api.AssistantConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if cfg.ID == "" || cfg.LLMProviderID == "" {
		writeError(w, fmt.Errorf("assistant requires id and llm_provider_id: %w", api.ErrValidation))
		return
	}
	if err := s.store.SaveAssistant(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type chatRequest struct {
	Messages []api.Message `json:"messages"`
	UserID   string        `json:"user_id"`
}

type chatResponse struct {
	Content    string                `json:"content"`
	ToolUsages []api.ToolUsageRecord `json:"tool_usages,omitempty"`
	Usage      *api.Usage            `json:"usage,omitempty"`
}

// handleChat runs the full agentic loop for one assistant and returns the
// terminal answer plus the tool transcript of the run.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	assistantID := chi.URLParam(r, "id")

	tc := api.ToolContext{
		UserID:   req.UserID,
		Platform: "http",
	}
	if n := len(req.Messages); n > 0 {
		tc.Message = req.Messages[n-1].Content
	}

	result, err := s.engine.GenerateForAssistant(r.Context(), assistantID, req.Messages, tc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Content:    result.Response.Content,
		ToolUsages: result.ToolUsages,
		Usage:      result.Response.Usage,
	})
}

type generateRequest struct {
	Model    string        `json:"model"`
	Messages []api.Message `json:"messages"`
}

// handleGenerate is the plain completion path: one model call against a
// provider instance, no assistant profile and no tools.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.engine.GenerateForProvider(r.Context(), chi.URLParam(r, "id"), req.Model, req.Messages)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- automations ---

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	automations, err := s.store.Automations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, automations)
}

func (s *Server) handleSaveAutomation(w http.ResponseWriter, r *http.Request) {
	var a api.Automation
	if err := decodeBody(r, &a); err != nil {
		writeError(w, err)
		return
	}
	if a.ID == "" || a.Cron == "" || a.AssistantID == "" {
		writeError(w, fmt.Errorf("automation requires id, cron and assistant_id: %w", api.ErrValidation))
		return
	}
	if a.DeliveryChannelID == "" || a.DeliveryChatID == "" {
		writeError(w, fmt.Errorf("automation requires a delivery target: %w", api.ErrValidation))
		return
	}
	if err := s.store.SaveAutomation(r.Context(), a); err != nil {
		writeError(w, err)
		return
	}
	if err := s.invoker.Reschedule(a); err != nil {
		writeError(w, fmt.Errorf("%v: %w", err, api.ErrValidation))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRunAutomation(w http.ResponseWriter, r *http.Request) {
	exec, err := s.invoker.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// --- bindings ---

func (s *Server) handleBindChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssistantID string `json:"assistant_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	channelID := chi.URLParam(r, "id")
	if _, err := s.store.Assistant(r.Context(), req.AssistantID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.BindChannel(r.Context(), channelID, req.AssistantID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channel_instance_id": channelID, "assistant_id": req.AssistantID})
}
