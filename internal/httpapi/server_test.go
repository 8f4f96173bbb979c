package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/poam/internal/guest"
	"github.com/roach88/poam/internal/ir"
	"github.com/roach88/poam/internal/metrics"
	"github.com/roach88/poam/internal/service"
	"github.com/roach88/poam/internal/store"
	"github.com/roach88/poam/internal/zkvm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	e, err := zkvm.NewLocalEngine(make([]byte, 32), nil)
	require.NoError(t, err)

	opts := service.Options{
		Engine:   e,
		Workers:  2,
		ChainIDs: service.NewFixedGenerator("chain-1", "chain-2"),
		Metrics:  metrics.New(),
	}
	if withStore {
		st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		opts.Store = st
	}
	svc, err := service.New(opts)
	require.NoError(t, err)
	return New(svc, Options{Metrics: opts.Metrics})
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == nil {
		r = httptest.NewRequest(method, path, nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func prove(t *testing.T, s *Server, req service.ProveRequest) service.ProveResponse {
	t.Helper()
	w := do(t, s, http.MethodPost, "/v1/prove", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[service.ProveResponse](t, w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, true)
	w := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestProveAndVerify(t *testing.T) {
	s := newTestServer(t, false)

	first := prove(t, s, service.ProveRequest{Operation: ir.OperationRequest{A: 2, B: 3, Operation: "add"}})
	assert.Equal(t, "5", first.Result)
	assert.Equal(t, "chain-1", first.ChainID)

	w := do(t, s, http.MethodPost, "/v1/verify", first.Proof)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[service.VerifyResponse](t, w)
	assert.True(t, out.Valid)
	require.NotNil(t, out.Journal)
	assert.Equal(t, "5", out.Journal.Result)

	tampered := first.Proof
	tampered.Receipt = append([]byte(nil), tampered.Receipt...)
	tampered.Receipt[len(tampered.Receipt)-1] ^= 1
	w = do(t, s, http.MethodPost, "/v1/verify", tampered)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[service.VerifyResponse](t, w).Valid)

	w = do(t, s, http.MethodPost, "/v1/verify", map[string]any{"image_id": []uint32{1, 2, 3}, "receipt": first.Proof.Receipt})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MALFORMED_INPUT", decode[ErrorResponse](t, w).Code)
}

func TestProveRejected(t *testing.T) {
	s := newTestServer(t, false)
	first := prove(t, s, service.ProveRequest{Operation: ir.OperationRequest{A: 2, B: 3, Operation: "add"}})

	sub := guest.Processing(ir.OpSub).ImageID()
	w := do(t, s, http.MethodPost, "/v1/prove", service.ProveRequest{
		Operation:  ir.OperationRequest{A: 5, B: 4, Operation: "mul"},
		ProofChain: first.ProofChain,
		Rules:      &ir.RuleInput{Rules: []ir.Rule{ir.NewPrecedence(sub)}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "PRECEDENCE_VIOLATION", resp.Code)
	assert.Equal(t, "conformance", resp.Category)
	require.NotNil(t, resp.Violation)
	require.NotNil(t, resp.Violation.Expected)
	assert.Equal(t, sub, *resp.Violation.Expected)
}

func TestProveErrorStatus(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"operation":`, http.StatusBadRequest, CodeBadRequest},
		{"unknown operation", `{"operation":{"a":1,"b":2,"operation":"pow"}}`, http.StatusNotFound, "UNKNOWN_FINGERPRINT"},
		{"short image id", `{"operation":{"a":1,"b":2},"image_id":[1,2]}`, http.StatusBadRequest, "MALFORMED_INPUT"},
		{"malformed rules", `{"operation":{"a":1,"b":2,"operation":"add"},"rules":{"rules":[{}]}}`, http.StatusBadRequest, "MALFORMED_RULES"},
		{"division by zero", `{"operation":{"a":1,"b":0,"operation":"div"}}`, http.StatusInternalServerError, "ENGINE_FAILURE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/prove", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, r)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestCompose(t *testing.T) {
	s := newTestServer(t, false)
	first := prove(t, s, service.ProveRequest{Operation: ir.OperationRequest{A: 2, B: 3, Operation: "add"}})
	second := prove(t, s, service.ProveRequest{
		Operation:  ir.OperationRequest{A: 5, B: 4, Operation: "mul"},
		ProofChain: first.ProofChain,
	})

	w := do(t, s, http.MethodPost, "/v1/compose", service.ComposeRequest{ProofChain: second.ProofChain})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	comp := decode[service.ComposeResponse](t, w)
	assert.Len(t, comp.Claims, 2)

	w = do(t, s, http.MethodPost, "/v1/verify", comp.Proof)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[service.VerifyResponse](t, w)
	assert.True(t, out.Valid)
	require.NotNil(t, out.Composite)

	w = do(t, s, http.MethodPost, "/v1/compose", service.ComposeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "EMPTY_INPUT", decode[ErrorResponse](t, w).Code)
}

func TestGuests(t *testing.T) {
	s := newTestServer(t, false)
	w := do(t, s, http.MethodGet, "/v1/guests", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Guests []service.GuestInfo `json:"guests"`
	}](t, w)
	require.Len(t, body.Guests, 5)
	assert.Equal(t, "poam.composite", body.Guests[4].Name)
}

func TestChainAndReplay(t *testing.T) {
	s := newTestServer(t, true)
	first := prove(t, s, service.ProveRequest{Operation: ir.OperationRequest{A: 2, B: 3, Operation: "add"}})
	prove(t, s, service.ProveRequest{
		Operation:  ir.OperationRequest{A: 5, B: 4, Operation: "mul"},
		ProofChain: first.ProofChain,
	})

	w := do(t, s, http.MethodGet, "/v1/chains/chain-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	chain := decode[ChainResponse](t, w)
	require.Len(t, chain.Rounds, 2)
	assert.Equal(t, "5", chain.Rounds[0].Result)
	assert.Empty(t, chain.Rounds[0].PreviousImageID)
	assert.Equal(t, chain.Rounds[0].ImageID, chain.Rounds[1].PreviousImageID)

	w = do(t, s, http.MethodGet, "/v1/chains/chain-1/replay", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replay := decode[ReplayResponse](t, w)
	assert.True(t, replay.Valid, replay.Issues)
	assert.Equal(t, 2, replay.Rounds)

	w = do(t, s, http.MethodGet, "/v1/chains/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, s, http.MethodGet, "/v1/chains/missing/replay", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChainWithoutStore(t *testing.T) {
	s := newTestServer(t, false)
	w := do(t, s, http.MethodGet, "/v1/chains/chain-1", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, CodeNoStore, decode[ErrorResponse](t, w).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	do(t, s, http.MethodGet, "/v1/guests", nil)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `poam_http_requests_total{method="GET",route="/v1/guests",status="200"} 1`)
}
