package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smider/broker-service/internal/dispatch"
	"smider/broker-service/internal/extract"
	"smider/broker-service/internal/intake"
	"smider/broker-service/internal/pricing"
)

func newServer(t *testing.T, e *env, ex extract.Extractor) *httptest.Server {
	t.Helper()
	if ex == nil {
		ex = extract.ExtractorFunc(func(context.Context, []extract.Turn) ([]byte, error) {
			return []byte(`{}`), nil
		})
	}
	in := intake.NewService(ex, intake.NewController(), pricing.NewEngine(pricing.DefaultRateCard()))
	mux := http.NewServeMux()
	dispatch.NewHandler(e.svc, in).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("x-user-id", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	if m, ok := out.(map[string]any); ok {
		return resp.StatusCode, m
	}
	return resp.StatusCode, map[string]any{"items": out}
}

const socketJobBody = `{"payload":{"category":"elektriker","task_details":"bytte stikkontakt","socket_count":2,"materials_by_customer":true,"has_product":true}}`

// ── Health & auth ──────────────────────────────────────────────────────────

func TestHandler_Health(t *testing.T) {
	srv := newServer(t, newEnv(t), nil)
	code, body := do(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestHandler_MissingUser(t *testing.T) {
	srv := newServer(t, newEnv(t), nil)
	code, body := do(t, srv, http.MethodGet, "/jobs", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "missing x-user-id header", body["error"])
}

func TestHandler_MethodAndPath(t *testing.T) {
	srv := newServer(t, newEnv(t), nil)

	code, _ := do(t, srv, http.MethodDelete, "/jobs", "cust-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, _ = do(t, srv, http.MethodPost, "/jobs/abc", "cust-1", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := do(t, srv, http.MethodPost, "/jobs/abc/archive", "cust-1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, `unknown action "archive"`, body["error"])
}

// ── Intake ─────────────────────────────────────────────────────────────────

func TestHandler_IntakeTurn(t *testing.T) {
	ex := extract.ExtractorFunc(func(context.Context, []extract.Turn) ([]byte, error) {
		return []byte(`{"category":"maler","task_details":"male stue","materials_by_customer":true}`), nil
	})
	srv := newServer(t, newEnv(t), ex)

	code, body := do(t, srv, http.MethodPost, "/intake/turn", "", `{"messages":[{"role":"user","content":"male stua"}]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["done"])
	assert.Equal(t, []any{"area_sqm", "surface_type"}, body["missingFields"])

	code, _ = do(t, srv, http.MethodPost, "/intake/turn", "", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_IntakeTurnRefusalAndErrors(t *testing.T) {
	unsupported := extract.ExtractorFunc(func(context.Context, []extract.Turn) ([]byte, error) {
		return []byte(`{"category":"taktekker"}`), nil
	})
	code, body := do(t, newServer(t, newEnv(t), unsupported), http.MethodPost, "/intake/turn", "",
		`{"messages":[{"role":"user","content":"nytt tak"}]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["unsupported"])
	assert.Equal(t, intake.MsgCategoryUnsupported, body["message"])

	down := extract.ExtractorFunc(func(context.Context, []extract.Turn) ([]byte, error) {
		return nil, errors.New("connection refused")
	})
	code, _ = do(t, newServer(t, newEnv(t), down), http.MethodPost, "/intake/turn", "",
		`{"messages":[{"role":"user","content":"hei"}]}`)
	assert.Equal(t, http.StatusBadGateway, code)
}

// ── Job and offer flow ─────────────────────────────────────────────────────

func TestHandler_JobLifecycle(t *testing.T) {
	e := newEnv(t)
	e.addContractor(t, "a", "A Elektro", 59.92, 10.76, nil)
	e.addContractor(t, "b", "B Elektro", 59.93, 10.77, nil)
	srv := newServer(t, e, nil)

	code, body := do(t, srv, http.MethodPost, "/jobs", "cust-1", socketJobBody)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["paymentRequired"])
	jobID := body["job"].(map[string]any)["id"].(string)

	code, _ = do(t, srv, http.MethodPost, "/jobs/"+jobID+"/confirm-payment", "cust-2", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, body = do(t, srv, http.MethodPost, "/jobs/"+jobID+"/confirm-payment", "cust-1", "")
	require.Equal(t, http.StatusOK, code, body)
	offers := body["offers"].([]any)
	require.Len(t, offers, 2)
	first := offers[0].(map[string]any)
	offerID := first["id"].(string)
	contractor := first["contractorId"].(string)

	code, body = do(t, srv, http.MethodGet, "/offers", contractor, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)

	code, body = do(t, srv, http.MethodPost, "/offers/"+offerID+"/accept", contractor, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "accepted", body["status"])

	code, body = do(t, srv, http.MethodPost, "/offers/"+offerID+"/accept", contractor, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "offer no longer available", body["error"])

	code, body = do(t, srv, http.MethodGet, "/jobs", "cust-1", "")
	require.Equal(t, http.StatusOK, code)
	jobs := body["items"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "assigned", jobs[0].(map[string]any)["status"])

	code, body = do(t, srv, http.MethodPost, "/jobs/"+jobID+"/complete", contractor, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "completed", body["status"])
}

func TestHandler_CreateJobValidation(t *testing.T) {
	srv := newServer(t, newEnv(t), nil)

	code, body := do(t, srv, http.MethodPost, "/jobs", "cust-1", `{"payload":{"category":"maler","task_details":"male"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["fields"], "area_sqm")

	code, body = do(t, srv, http.MethodPost, "/jobs", "cust-1", `{"payload":{"category":"elektriker","socket_count":"mange"}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["fields"], "socket_count")

	code, _ = do(t, srv, http.MethodPost, "/jobs", "cust-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, srv, http.MethodPost, "/jobs/missing/cancel", "cust-1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_CreateJobPaymentFailure(t *testing.T) {
	e := newEnv(t, withPayments(&stubAuth{fail: true}))
	srv := newServer(t, e, nil)

	code, body := do(t, srv, http.MethodPost, "/jobs", "cust-1", socketJobBody)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.NotEmpty(t, body["jobId"])
}
