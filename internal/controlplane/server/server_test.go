package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/futarchybot/gomarket/internal/events"
	"github.com/futarchybot/gomarket/pkg/config"
	"github.com/futarchybot/gomarket/pkg/persistence"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(config.Default().Engine, events.NewBus(), nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createProposal(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/proposals/", map[string]any{
		"admin":            "0xadmin",
		"outcome_messages": []string{"reject", "accept"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["market_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	id := createProposal(t, ts)
	base := ts.URL + "/api/proposals/" + id

	resp, body := doJSON(t, http.MethodGet, base+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "review", body["status"])

	resp, body = doJSON(t, http.MethodPost, base+"/start", map[string]any{"duration": 3600})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trading", body["status"])

	// Deadline gating: closing immediately must fail.
	resp, _ = doJSON(t, http.MethodPost, base+"/end", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMintAndSwapOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	id := createProposal(t, ts)
	base := ts.URL + "/api/proposals/" + id

	resp, _ := doJSON(t, http.MethodPost, base+"/start", map[string]any{"duration": 3600})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, base+"/mint", map[string]any{
		"asset_type": "asset",
		"amount":     1_000_000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokens := body["tokens"].([]any)
	require.Len(t, tokens, 2)
	tok1 := tokens[1].(map[string]any)
	handle := tok1["handle"].(string)
	require.NotEmpty(t, handle)

	resp, body = doJSON(t, http.MethodPost, base+"/swap", map[string]any{
		"outcome": 1,
		"token":   handle,
		"min_out": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := body["token"].(map[string]any)
	assert.Equal(t, "stable", out["asset_type"])
	assert.Greater(t, out["balance"].(float64), float64(0))

	// The spent handle is gone.
	resp, _ = doJSON(t, http.MethodPost, base+"/swap", map[string]any{
		"outcome": 1,
		"token":   handle,
		"min_out": 1,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuote(t *testing.T) {
	_, ts := newTestServer(t)
	id := createProposal(t, ts)

	url := fmt.Sprintf("%s/api/proposals/%s/quote?outcome=0&direction=asset_to_stable&amount=100000000", ts.URL, id)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(90_661_089), body["amount_out"])
}

func TestUnknownProposal(t *testing.T) {
	_, ts := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/proposals/nope/start", map[string]any{"duration": 60})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadMintType(t *testing.T) {
	_, ts := newTestServer(t)
	id := createProposal(t, ts)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/mint", map[string]any{
		"asset_type": "gold",
		"amount":     10,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	_, ts := newTestServer(t)
	id := createProposal(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)
	r, _ := doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/start", map[string]any{"duration": 3600})
	require.Equal(t, http.StatusOK, r.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env eventEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "trading_started", env.Kind)
}

func TestProposalDefinitionsSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := persistence.Open(dir)
	require.NoError(t, err)
	s1, err := New(config.Default().Engine, events.NewBus(), nil, store)
	require.NoError(t, err)
	ts1 := httptest.NewServer(s1.Router())
	id := createProposal(t, ts1)
	ts1.Close()
	require.NoError(t, store.Close())

	store, err = persistence.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	s2, err := New(config.Default().Engine, events.NewBus(), nil, store)
	require.NoError(t, err)
	ts2 := httptest.NewServer(s2.Router())
	t.Cleanup(ts2.Close)

	resp, body := doJSON(t, http.MethodGet, ts2.URL+"/api/proposals/"+id+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["market_id"])
	assert.Equal(t, "review", body["status"])
}

func TestTokenSplitAndMerge(t *testing.T) {
	s, ts := newTestServer(t)
	id := createProposal(t, ts)

	kinds := make(chan string, 8)
	s.bus.OnEvent(func(e any) {
		switch k := events.Kind(e); k {
		case "token_split", "token_merge":
			kinds <- k
		}
	})

	r, _ := doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/start", map[string]any{"duration": 3600})
	require.Equal(t, http.StatusOK, r.StatusCode)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/mint", map[string]any{
		"asset_type": "stable",
		"amount":     1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokens := body["tokens"].([]any)
	require.Len(t, tokens, 2)
	handle := tokens[0].(map[string]any)["handle"].(string)
	other := tokens[1].(map[string]any)["handle"].(string)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/tokens/split", map[string]any{
		"token":  handle,
		"amount": 400,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kept := body["token"].(map[string]any)
	carved := body["split"].(map[string]any)
	assert.Equal(t, float64(600), kept["balance"])
	assert.Equal(t, float64(400), carved["balance"])

	// Splitting more than the balance is rejected.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/tokens/split", map[string]any{
		"token":  handle,
		"amount": 10_000,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Tokens of different outcomes cannot merge.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/tokens/merge", map[string]any{
		"into": handle,
		"from": other,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	carvedHandle := carved["handle"].(string)
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/tokens/merge", map[string]any{
		"into": handle,
		"from": carvedHandle,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	merged := body["token"].(map[string]any)
	assert.Equal(t, float64(1000), merged["balance"])

	// The folded-in handle is spent.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/proposals/"+id+"/tokens/merge", map[string]any{
		"into": handle,
		"from": carvedHandle,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, "token_split", <-kinds)
	assert.Equal(t, "token_merge", <-kinds)
}
