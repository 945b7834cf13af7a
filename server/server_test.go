package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svarunid/voiceflow/enhancer"
	"github.com/svarunid/voiceflow/livechannel"
	"github.com/svarunid/voiceflow/persona"
	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/simulator"
	"github.com/svarunid/voiceflow/storage"
	"github.com/svarunid/voiceflow/store"
	"github.com/svarunid/voiceflow/types"
	"github.com/svarunid/voiceflow/validator"
)

const testPersonaJSON = `{
	"full_name": "Arjun Mehta",
	"age": 38,
	"gender": "male",
	"debt_amount": 750000,
	"due_date": "2026-05-01",
	"description": "Small business owner whose shop flooded last monsoon; cooperative when treated with respect."
}`

const testVerdictJSON = `{
	"metric": {"politeness": "polite", "negotiation_level": "moderate"},
	"feedback": "Respectful tone; concrete installment plan proposed."
}`

const testImprovedPrompt = "Improved prompt for {full_name}, owing {debt_amount} by {due_date}."

type serverEnv struct {
	ts       *httptest.Server
	sim      *simulator.Simulator
	personas *store.MemoryPersonaStore
	runs     *store.MemoryRunStore
	versions *store.MemoryVersionStore
	channels *livechannel.Registry
}

// newServerEnv wires a full server over memory stores and mock providers,
// with a seeded persona and pinned prompt version.
func newServerEnv(t *testing.T, agent, personaModel providers.Provider) *serverEnv {
	t.Helper()
	ctx := context.Background()

	env := &serverEnv{
		personas: store.NewMemoryPersonaStore(),
		runs:     store.NewMemoryRunStore(),
		versions: store.NewMemoryVersionStore(),
		channels: livechannel.NewRegistry(),
	}

	require.NoError(t, env.personas.Create(ctx, &types.Persona{
		ID: "p1", FullName: "Meera Joshi", Age: 35, Gender: "female",
		DebtAmount: 500000, DueDate: "2026-06-30",
		Description: "Single mother of two, recently between jobs.",
	}))
	v, err := env.versions.Append(ctx, prompts.DefaultAgentPrompt, types.VersionSource{Kind: types.SourceManual})
	require.NoError(t, err)
	require.NoError(t, env.versions.Pin(ctx, v.Version))

	gen, err := persona.NewGenerator(providers.NewMockProvider("gen", testPersonaJSON), env.personas)
	require.NoError(t, err)

	env.sim = simulator.New(simulator.Deps{
		Agent:     agent,
		Persona:   personaModel,
		Personas:  env.personas,
		Runs:      env.runs,
		Versions:  env.versions,
		Channels:  env.channels,
		Objects:   storage.NewMemoryObjectStore(),
		Validator: validator.New(providers.NewMockProvider("judge", testVerdictJSON)),
	})

	srv := New(Deps{
		Personas:  env.personas,
		Runs:      env.runs,
		Versions:  env.versions,
		Generator: gen,
		Simulator: env.sim,
		Enhancer: enhancer.New(providers.NewMockProvider("enh", testImprovedPrompt),
			env.personas, env.runs, env.versions),
		Channels: env.channels,
	})

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *serverEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (e *serverEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func defaultAgents() (providers.Provider, providers.Provider) {
	agent := providers.NewMockProvider("agent",
		"Hello, this is Diane from Voice Flow.",
		"Thank you, goodbye. "+types.EndCallMarker)
	personaModel := providers.NewMockProvider("persona", "Who is this?")
	return agent, personaModel
}

func newDefaultEnv(t *testing.T) *serverEnv {
	agent, personaModel := defaultAgents()
	return newServerEnv(t, agent, personaModel)
}

func TestGeneratePersonaEndpoint(t *testing.T) {
	env := newDefaultEnv(t)

	resp := env.post(t, "/v1/personas/generate", map[string]string{"prompt": "a struggling shop owner"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[types.Persona](t, resp)
	assert.Equal(t, "Arjun Mehta", p.FullName)
	assert.NotEmpty(t, p.ID)

	resp = env.get(t, "/v1/personas/"+p.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.get(t, "/v1/personas")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]types.Persona](t, resp)
	assert.Len(t, list, 2) // seeded + generated

	resp = env.post(t, "/v1/personas/generate", map[string]string{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGeneratePersonaUpstreamFailure(t *testing.T) {
	env := newDefaultEnv(t)

	// Swap in a generator whose model returns garbage.
	gen, err := persona.NewGenerator(providers.NewMockProvider("gen", "not json"), env.personas)
	require.NoError(t, err)
	srv := New(Deps{
		Personas: env.personas, Runs: env.runs, Versions: env.versions,
		Generator: gen, Simulator: env.sim,
		Enhancer: enhancer.New(providers.NewMockProvider("enh", testImprovedPrompt), env.personas, env.runs, env.versions),
		Channels: env.channels,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	data, _ := json.Marshal(map[string]string{"prompt": "x"})
	resp, err := http.Post(ts.URL+"/v1/personas/generate", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRunLifecycleEndpoints(t *testing.T) {
	env := newDefaultEnv(t)

	resp := env.post(t, "/v1/runs", map[string]any{"persona_id": "p1", "turn_budget": 6})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[runView](t, resp)
	assert.Equal(t, types.RunStateRunning, created.State)
	assert.Equal(t, types.ClassificationPending, created.Classification)
	assert.Equal(t, "/v1/runs/"+created.ID+"/ws", created.WSURL)

	env.sim.Wait()

	resp = env.get(t, "/v1/runs/"+created.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	final := decode[runView](t, resp)
	assert.Equal(t, types.RunStateCompleted, final.State)
	assert.Equal(t, types.ClassificationPassed, final.Classification)
	assert.Equal(t, "Meera Joshi", final.PersonaName)
	assert.Len(t, final.Conversation, 3)

	resp = env.get(t, "/v1/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]runView](t, resp)
	assert.Len(t, list, 1)

	// Stopping a finished run conflicts; stopping an unknown one is 404.
	resp = env.post(t, "/v1/runs/"+created.ID+"/stop", struct{}{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
	resp = env.post(t, "/v1/runs/nope/stop", struct{}{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateRunValidation(t *testing.T) {
	env := newDefaultEnv(t)

	resp := env.post(t, "/v1/runs", map[string]any{"persona_id": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/v1/runs", map[string]any{"persona_id": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/v1/runs", map[string]any{"persona_id": "p1", "turn_budget": -2})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestObserveRunOverWebSocket(t *testing.T) {
	env := newDefaultEnv(t)

	resp := env.post(t, "/v1/runs", map[string]any{"persona_id": "p1", "turn_budget": 6})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[runView](t, resp)

	// Let the run finish; attaching afterwards replays the backlog.
	env.sim.Wait()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/runs/" + created.ID + "/ws"
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	var envelopes []livechannel.Envelope
	for {
		var frame livechannel.Envelope
		if err := conn.ReadJSON(&frame); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
				fmt.Sprintf("expected normal closure, got %v", err))
			break
		}
		envelopes = append(envelopes, frame)
	}

	require.Len(t, envelopes, 5) // start, 3 messages, end
	assert.Equal(t, livechannel.EnvelopeStart, envelopes[0].Type)
	assert.Equal(t, "Meera Joshi", envelopes[0].Persona.FullName)
	assert.Equal(t, types.RoleAgent, envelopes[1].Role)
	assert.Equal(t, types.RolePersona, envelopes[2].Role)
	assert.Equal(t, livechannel.EnvelopeEnd, envelopes[4].Type)
	assert.Equal(t, types.PolitenessPolite, envelopes[4].Metric.Politeness)
}

func TestObserveUnknownRun(t *testing.T) {
	env := newDefaultEnv(t)

	resp := env.get(t, "/v1/runs/nope/ws")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPromptVersionEndpoints(t *testing.T) {
	env := newDefaultEnv(t)

	resp := env.post(t, "/v1/prompts", map[string]string{
		"text": "Revised prompt for {full_name}, {debt_amount}, {due_date}.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v := decode[types.PromptVersion](t, resp)
	assert.Equal(t, "1.1.0", v.Version)
	assert.False(t, v.Pinned)

	// Missing placeholders are rejected before anything is stored.
	resp = env.post(t, "/v1/prompts", map[string]string{"text": "no placeholders"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/v1/prompts/1.1.0/pin", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pinned := decode[types.PromptVersion](t, resp)
	assert.True(t, pinned.Pinned)

	resp = env.get(t, "/v1/prompts/pinned")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := decode[types.PromptVersion](t, resp)
	assert.Equal(t, "1.1.0", current.Version)

	resp = env.post(t, "/v1/prompts/9.9.9/pin", struct{}{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Malformed version identifiers are rejected before hitting the store.
	resp = env.post(t, "/v1/prompts/latest/pin", struct{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	resp = env.get(t, "/v1/prompts/not-a-version")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.get(t, "/v1/prompts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]types.PromptVersion](t, resp)
	require.Len(t, list, 2)
	assert.Equal(t, "1.1.0", list[0].Version) // newest first
}

func TestEnhanceEndpoint(t *testing.T) {
	env := newDefaultEnv(t)
	ctx := context.Background()

	// Seed a completed, failing run against the pinned version.
	run := &types.TestRun{
		ID: "run-failed", PersonaID: "p1", TurnBudget: 6, PromptVersion: "1.0.0",
		State: types.RunStateRunning,
		Conversation: types.Conversation{
			{Role: types.RoleAgent, Text: "Pay immediately or else."},
			{Role: types.RolePersona, Text: "Please, I need time."},
		},
	}
	require.NoError(t, env.runs.Create(ctx, run))
	require.NoError(t, env.runs.Complete(ctx, run.ID,
		&types.Metric{Politeness: types.PolitenessRude, NegotiationLevel: types.NegotiationHard},
		"Threatening language throughout."))

	resp := env.post(t, "/v1/prompts/enhance", map[string]string{"run_id": run.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v := decode[types.PromptVersion](t, resp)
	assert.Equal(t, "1.1.0", v.Version)
	assert.Equal(t, types.SourceEnhancer, v.Source.Kind)
	assert.Equal(t, run.ID, v.Source.RunID)

	// A passing run is not eligible.
	passing := &types.TestRun{
		ID: "run-passed", PersonaID: "p1", TurnBudget: 6, PromptVersion: "1.0.0",
		State: types.RunStateRunning,
		Conversation: types.Conversation{
			{Role: types.RoleAgent, Text: "Hello."},
		},
	}
	require.NoError(t, env.runs.Create(ctx, passing))
	require.NoError(t, env.runs.Complete(ctx, passing.ID,
		&types.Metric{Politeness: types.PolitenessPolite, NegotiationLevel: types.NegotiationSoft}, "Good."))

	resp = env.post(t, "/v1/prompts/enhance", map[string]string{"run_id": passing.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/v1/prompts/enhance", map[string]string{"run_id": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	env := newDefaultEnv(t)

	resp := env.get(t, "/healthz")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
