package server

import (
	"net/http"
	"strconv"

	"github.com/svarunid/voiceflow/metrics"
	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/simulator"
	"github.com/svarunid/voiceflow/store"
	"github.com/svarunid/voiceflow/types"
)

// runView decorates a stored run with its derived classification and the
// persona's display name.
type runView struct {
	*types.TestRun
	Classification types.Classification `json:"classification"`
	PersonaName    string               `json:"persona_name,omitempty"`
	WSURL          string               `json:"ws_url,omitempty"`
}

func (s *Server) viewOf(r *http.Request, run *types.TestRun) runView {
	view := runView{TestRun: run, Classification: run.Classify()}
	if p, err := s.personas.Get(r.Context(), run.PersonaID); err == nil {
		view.PersonaName = p.FullName
	}
	return view
}

// listOptions reads pagination parameters from the query string.
func listOptions(r *http.Request) store.ListOptions {
	var opts store.ListOptions
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		opts.Offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	return opts
}

type generatePersonaRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGeneratePersona(w http.ResponseWriter, r *http.Request) {
	var req generatePersonaRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "prompt is required"})
		return
	}

	p, err := s.generator.Generate(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := s.personas.List(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, personas)
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := s.personas.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createRunRequest struct {
	PersonaID     string `json:"persona_id"`
	Name          string `json:"name,omitempty"`
	TurnBudget    int    `json:"turn_budget,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.PersonaID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "persona_id is required"})
		return
	}

	run, err := s.sim.StartRun(r.Context(), simulator.RunRequest{
		PersonaID:     req.PersonaID,
		Name:          req.Name,
		TurnBudget:    req.TurnBudget,
		PromptVersion: req.PromptVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	view := s.viewOf(r, run)
	view.WSURL = "/v1/runs/" + run.ID + "/ws"
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List(r.Context(), listOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, s.viewOf(r, run))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(r, run))
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Distinguish an unknown run from one that already finished.
	if _, err := s.runs.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sim.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.versions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

type createVersionRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := prompts.ValidatePlaceholders(req.Text); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	v, err := s.versions.Append(r.Context(), req.Text, types.VersionSource{Kind: types.SourceManual})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetPinned(w http.ResponseWriter, r *http.Request) {
	v, err := s.versions.Pinned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")
	if err := store.ValidateVersion(version); err != nil {
		writeError(w, err)
		return
	}

	v, err := s.versions.Get(r.Context(), version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePinVersion(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")
	if err := store.ValidateVersion(version); err != nil {
		writeError(w, err)
		return
	}
	if err := s.versions.Pin(r.Context(), version); err != nil {
		writeError(w, err)
		return
	}

	v, err := s.versions.Get(r.Context(), version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type enhanceRequest struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.RunID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "run_id is required"})
		return
	}

	v, err := s.enhancer.Enhance(r.Context(), req.RunID)
	if err != nil {
		metrics.Enhancements.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}

	metrics.Enhancements.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusCreated, v)
}
