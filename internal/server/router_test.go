package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	alarmapp "videomonitoring/internal/alarms/application"
	alarmhttp "videomonitoring/internal/alarms/interfaces/http"
	audithttp "videomonitoring/internal/audit/interfaces/http"
	"videomonitoring/internal/auth"
	billingapp "videomonitoring/internal/billing/application"
	billing "videomonitoring/internal/billing/domain"
	billinghttp "videomonitoring/internal/billing/interfaces/http"
	claimsapp "videomonitoring/internal/claims/application"
	claimshttp "videomonitoring/internal/claims/interfaces/http"
	"videomonitoring/internal/notify"
	"videomonitoring/internal/store"
	"videomonitoring/internal/store/memory"
)

var (
	jwtSecret    = []byte("jwt-secret")
	ingestSecret = []byte("ingest-secret")
)

type harness struct {
	t   *testing.T
	srv *httptest.Server
}

func newHarness(t *testing.T) harness {
	t.Helper()
	mem := memory.New()
	now := time.Now().UTC()
	start, end := billing.PeriodBounds(now, time.UTC)
	mem.PutAccount(billing.Account{
		ID:                 "acct-1",
		WarningThreshold:   billing.Int64(1000),
		SnoozeThreshold:    billing.Int64(2000),
		AllowDismiss:       true,
		BillingPeriodStart: start,
		BillingPeriodEnd:   end,
	})
	mem.PutCamera(billing.Camera{ID: "cam-1", AccountID: "acct-1"})
	st := store.WithRetry(mem, store.RetryPolicy{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}, nil)

	rec := &notify.Recorder{}
	billingSvc, err := billingapp.NewService(st, billingapp.WithPublisher(rec))
	require.NoError(t, err)
	claimSvc, err := claimsapp.NewService(st, claimsapp.WithPublisher(rec))
	require.NoError(t, err)
	alarmSvc, err := alarmapp.NewService(st, alarmapp.WithPublisher(rec))
	require.NoError(t, err)

	bh, err := billinghttp.NewHandler(billingSvc)
	require.NoError(t, err)
	ch, err := claimshttp.NewHandler(claimSvc)
	require.NoError(t, err)
	ah, err := alarmhttp.NewHandler(alarmSvc)
	require.NoError(t, err)
	auh, err := audithttp.NewHandler(store.AuditReader(st))
	require.NoError(t, err)

	router := NewRouter(Options{
		JWTSecret:     jwtSecret,
		IngestSecret:  ingestSecret,
		IngestMaxSkew: time.Minute,
		Ingest:        bh,
		API:           []Registrar{bh, ch, ah, auh},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return harness{t: t, srv: srv}
}

func (h harness) token(operator string, role auth.Role) string {
	h.t.Helper()
	tok, err := auth.IssueJWT(jwtSecret, operator, role, time.Hour)
	require.NoError(h.t, err)
	return tok
}

func (h harness) do(method, path, token string, body any) (*http.Response, []byte) {
	h.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, bytes.NewReader(payload))
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	return h.send(req)
}

func (h harness) send(req *http.Request) (*http.Response, []byte) {
	h.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(h.t, err)
	return resp, buf.Bytes()
}

func (h harness) ingest(body []byte, secret []byte) (*http.Response, []byte) {
	h.t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/ingest/signals", bytes.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set(auth.HeaderIngestTimestamp, ts)
	req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest(secret, ts, body))
	return h.send(req)
}

func TestOperatorFlow(t *testing.T) {
	h := newHarness(t)

	resp, body := h.ingest([]byte(`{"camera_id":"cam-1","media_refs":["clip-1.mp4"]}`), ingestSecret)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var signal struct {
		Accepted bool   `json:"accepted"`
		EventID  string `json:"event_id"`
	}
	require.NoError(t, json.Unmarshal(body, &signal))
	require.True(t, signal.Accepted)

	x := h.token("op-x", auth.RoleOperator)
	y := h.token("op-y", auth.RoleOperator)

	resp, body = h.do(http.MethodPost, "/api/v1/accounts/acct-1/claim", x, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = h.do(http.MethodPost, "/api/v1/accounts/acct-1/claim", y, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var conflict struct {
		Error  string `json:"error"`
		Holder string `json:"holder"`
	}
	require.NoError(t, json.Unmarshal(body, &conflict))
	require.Equal(t, "claim_conflict", conflict.Error)
	require.Equal(t, "op-x", conflict.Holder)

	resp, body = h.do(http.MethodPost, "/api/v1/events/"+signal.EventID+"/escalate", y, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, body = h.do(http.MethodPost, "/api/v1/events/"+signal.EventID+"/escalate", x, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var escalated struct {
		Alarm struct {
			ID string `json:"id"`
		} `json:"alarm"`
	}
	require.NoError(t, json.Unmarshal(body, &escalated))

	resp, _ = h.do(http.MethodPost, "/api/v1/alarms/"+escalated.Alarm.ID+"/resolve", x, map[string]string{"resolution": "teleport"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, body = h.do(http.MethodPost, "/api/v1/alarms/"+escalated.Alarm.ID+"/resolve", x, map[string]string{"resolution": "eyes_on", "notes": "checked"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	resp, _ = h.do(http.MethodPost, "/api/v1/alarms/"+escalated.Alarm.ID+"/hold", x, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = h.do(http.MethodDelete, "/api/v1/accounts/acct-1/claim", x, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(http.MethodPost, "/api/v1/accounts/acct-1/claim", y, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	viewer := h.token("auditor", auth.RoleViewer)
	resp, body = h.do(http.MethodGet, "/api/v1/audit?account_id=acct-1", viewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var page struct {
		Entries []struct {
			Action string `json:"action"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	var actions []string
	for _, e := range page.Entries {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"signal_accepted", "claim_acquired", "event_escalated", "alarm_resolved", "claim_released", "claim_acquired"}, actions)

	resp, body = h.do(http.MethodGet, "/api/v1/audit/export.csv?account_id=acct-1", viewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	require.Equal(t, 7, strings.Count(string(body), "\n"))
}

func TestIngestRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.ingest([]byte(`{"camera_id":"cam-1"}`), []byte("wrong"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnsnoozeRequiresAdminAndValidThresholds(t *testing.T) {
	h := newHarness(t)
	body := map[string]int64{"warning_threshold": 5, "snooze_threshold": 10}

	resp, _ := h.do(http.MethodPost, "/api/v1/accounts/acct-1/unsnooze", "", body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.do(http.MethodPost, "/api/v1/accounts/acct-1/unsnooze", h.token("op", auth.RoleOperator), body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := h.token("boss", auth.RoleAdmin)
	resp, _ = h.do(http.MethodPost, "/api/v1/accounts/acct-1/unsnooze", admin, body)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = h.do(http.MethodGet, "/api/v1/accounts/missing/activity", admin, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}
