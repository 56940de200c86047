// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zjgordon/labportal/internal/auth"
	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/pruner"
	"github.com/zjgordon/labportal/internal/security"
	"github.com/zjgordon/labportal/internal/testutil"
)

const (
	adminSecret = "admin-pass"
	cronSecret  = "cron-pass"
)

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T, agentPerMinute int) *testServer {
	t.Helper()
	store := testutil.NewStore(t)
	hash, err := security.HashAdminCredential(adminSecret)
	if err != nil {
		t.Fatalf("HashAdminCredential: %v", err)
	}
	router := NewRouter(Config{
		Dispatcher:     control.New(store, control.Options{}),
		Pruner:         pruner.New(store),
		Guard:          auth.NewGuard(store, hash, cronSecret),
		AgentPerMinute: agentPerMinute,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

// do sends a request with an optional bearer credential and JSON body and
// decodes the response into out when out is non-nil.
func (s *testServer) do(method, path, bearer string, body any, out any, headers ...string) int {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		s.t.Fatalf("NewRequest: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s (status %d): %v", method, path, resp.StatusCode, err)
		}
	}
	return resp.StatusCode
}

// seedHostAndService registers a host with one fully permitted service via
// the admin API and returns them with the agent token.
func (s *testServer) seedHostAndService(name string) (control.HostWithToken, model.ManagedService) {
	s.t.Helper()
	var host control.HostWithToken
	if code := s.do(http.MethodPost, "/api/admin/hosts", adminSecret, control.CreateHostRequest{Name: name}, &host); code != http.StatusCreated {
		s.t.Fatalf("create host status = %d", code)
	}
	var svc model.ManagedService
	req := control.CreateServiceRequest{HostID: host.ID, UnitName: "web.service", AllowStart: true, AllowStop: true, AllowRestart: true}
	if code := s.do(http.MethodPost, "/api/admin/services", adminSecret, req, &svc); code != http.StatusCreated {
		s.t.Fatalf("create service status = %d", code)
	}
	return host, svc
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, 0)
	var body map[string]string
	if code := s.do(http.MethodGet, "/healthz", "", nil, &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", code, body)
	}
}

func TestQueueAndReportRoundTrip(t *testing.T) {
	s := newTestServer(t, 0)
	host, svc := s.seedHostAndService("alpha")

	var queued model.Action
	enq := map[string]any{"hostId": host.ID, "serviceId": svc.ID, "kind": "restart"}
	if code := s.do(http.MethodPost, "/api/admin/actions", adminSecret, enq, &queued); code != http.StatusCreated {
		t.Fatalf("enqueue status = %d", code)
	}
	if queued.Status != model.StatusQueued || queued.RequestedBy != auth.AdminIdentity {
		t.Fatalf("queued = %+v", queued)
	}

	var hb model.HostSummary
	if code := s.do(http.MethodPost, "/api/agent/heartbeat", host.AgentToken, nil, &hb); code != http.StatusOK || !hb.Online {
		t.Fatalf("heartbeat = %d %+v", code, hb)
	}

	var q QueueResponse
	if code := s.do(http.MethodGet, "/api/agent/queue?max=5", host.AgentToken, nil, &q); code != http.StatusOK {
		t.Fatalf("queue status = %d", code)
	}
	if len(q.Actions) != 1 || q.Actions[0].ID != queued.ID || q.Actions[0].Status != model.StatusRunning || q.Actions[0].UnitName != "web.service" {
		t.Fatalf("queue = %+v", q)
	}

	zero := 0
	var done model.Action
	rep := ReportRequest{ActionID: queued.ID, Status: "succeeded", ExitCode: &zero, Message: "restarted"}
	if code := s.do(http.MethodPost, "/api/agent/report", host.AgentToken, rep, &done); code != http.StatusOK {
		t.Fatalf("report status = %d", code)
	}

	var got model.Action
	if code := s.do(http.MethodGet, "/api/admin/actions/"+queued.ID, adminSecret, nil, &got); code != http.StatusOK {
		t.Fatalf("get action status = %d", code)
	}
	if got.Status != model.StatusSucceeded || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Fatalf("stored action = %+v", got)
	}

	var again APIError
	if code := s.do(http.MethodPost, "/api/agent/report", host.AgentToken, rep, &again); code != http.StatusConflict || again.Code != "INVALID_STATE_TRANSITION" {
		t.Fatalf("second report = %d %+v", code, again)
	}
}

func TestCredentialSeparation(t *testing.T) {
	s := newTestServer(t, 0)
	host, _ := s.seedHostAndService("alpha")

	var apiErr APIError
	if code := s.do(http.MethodGet, "/api/admin/hosts", host.AgentToken, nil, &apiErr); code != http.StatusForbidden || apiErr.Code != "FORBIDDEN" {
		t.Fatalf("agent token on admin route = %d %+v", code, apiErr)
	}
	apiErr = APIError{}
	if code := s.do(http.MethodGet, "/api/agent/queue", adminSecret, nil, &apiErr); code != http.StatusUnauthorized || apiErr.Code != "UNAUTHORIZED" {
		t.Fatalf("admin credential on agent route = %d %+v", code, apiErr)
	}
	if code := s.do(http.MethodGet, "/api/admin/hosts", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous admin request = %d", code)
	}
}

func TestReportFromOtherHost(t *testing.T) {
	s := newTestServer(t, 0)
	a, svc := s.seedHostAndService("alpha")
	var b control.HostWithToken
	s.do(http.MethodPost, "/api/admin/hosts", adminSecret, control.CreateHostRequest{Name: "beta"}, &b)

	var queued model.Action
	s.do(http.MethodPost, "/api/admin/actions", adminSecret, map[string]any{"hostId": a.ID, "serviceId": svc.ID, "kind": "stop"}, &queued)
	var q QueueResponse
	s.do(http.MethodGet, "/api/agent/queue", a.AgentToken, nil, &q)
	if len(q.Actions) != 1 {
		t.Fatalf("expected one pulled action, got %d", len(q.Actions))
	}

	var apiErr APIError
	rep := ReportRequest{ActionID: queued.ID, Status: "failed"}
	if code := s.do(http.MethodPost, "/api/agent/report", b.AgentToken, rep, &apiErr); code != http.StatusForbidden || apiErr.Code != "HOST_MISMATCH" {
		t.Fatalf("cross-host report = %d %+v", code, apiErr)
	}
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, 0)
	host, svc := s.seedHostAndService("alpha")

	var apiErr APIError
	enq := map[string]any{"hostId": host.ID, "serviceId": svc.ID, "kind": "reboot"}
	if code := s.do(http.MethodPost, "/api/admin/actions", adminSecret, enq, &apiErr); code != http.StatusBadRequest || apiErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("bad kind = %d %+v", code, apiErr)
	}

	req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/agent/report", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+host.AgentToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed report = %d; want 400", resp.StatusCode)
	}

	if code := s.do(http.MethodGet, "/api/agent/queue?max=lots", host.AgentToken, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad max = %d; want 400", code)
	}
	if code := s.do(http.MethodGet, "/api/admin/hosts/does-not-exist", adminSecret, nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing host = %d; want 404", code)
	}
}

func TestPruneRequiresCronSecret(t *testing.T) {
	s := newTestServer(t, 0)
	if code := s.do(http.MethodPost, "/api/admin/prune?dryRun=true", adminSecret, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("prune without cron secret = %d; want 401", code)
	}
	var res pruner.Result
	code := s.do(http.MethodPost, "/api/admin/prune?dryRun=true&retentionDays=30", adminSecret, nil, &res, "x-cron-secret", cronSecret)
	if code != http.StatusOK || !res.DryRun {
		t.Fatalf("prune = %d %+v", code, res)
	}
	if code := s.do(http.MethodPost, "/api/admin/prune", "", nil, nil, "x-cron-secret", cronSecret); code != http.StatusUnauthorized {
		t.Fatalf("prune with cron secret but no admin = %d; want 401", code)
	}
	code = s.do(http.MethodPost, "/api/admin/prune?dryRun=true&retentionDays=200000", adminSecret, nil, nil, "x-cron-secret", cronSecret)
	if code != http.StatusBadRequest {
		t.Fatalf("prune with an oversized window = %d; want 400", code)
	}
}

func TestAgentRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	host, _ := s.seedHostAndService("alpha")
	for i := 0; i < 2; i++ {
		if code := s.do(http.MethodPost, "/api/agent/heartbeat", host.AgentToken, nil, nil); code != http.StatusOK {
			t.Fatalf("heartbeat %d = %d", i, code)
		}
	}
	if code := s.do(http.MethodPost, "/api/agent/heartbeat", host.AgentToken, nil, nil); code != http.StatusTooManyRequests {
		t.Fatalf("third heartbeat = %d; want 429", code)
	}
}

func TestAdminLifecycle(t *testing.T) {
	s := newTestServer(t, 0)
	host, svc := s.seedHostAndService("alpha")

	var patched model.ManagedService
	if code := s.do(http.MethodPatch, "/api/admin/services/"+svc.ID, adminSecret, map[string]bool{"allowStop": false}, &patched); code != http.StatusOK || patched.AllowStop {
		t.Fatalf("patch = %d %+v", code, patched)
	}
	var rotated control.HostWithToken
	if code := s.do(http.MethodPost, "/api/admin/hosts/"+host.ID+"/token", adminSecret, nil, &rotated); code != http.StatusOK || rotated.AgentToken == host.AgentToken {
		t.Fatalf("rotate = %d", code)
	}
	if code := s.do(http.MethodPost, "/api/agent/heartbeat", host.AgentToken, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("old token after rotation = %d; want 401", code)
	}

	var apiErr APIError
	if code := s.do(http.MethodDelete, "/api/admin/hosts/"+host.ID, adminSecret, nil, &apiErr); code != http.StatusConflict || apiErr.Code != "CONFLICT" {
		t.Fatalf("delete host with service = %d %+v", code, apiErr)
	}
	if code := s.do(http.MethodDelete, "/api/admin/services/"+svc.ID, adminSecret, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete service = %d", code)
	}
	if code := s.do(http.MethodDelete, "/api/admin/hosts/"+host.ID, adminSecret, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete host = %d", code)
	}

	var diag model.Diagnostics
	if code := s.do(http.MethodGet, "/api/admin/diagnostics", adminSecret, nil, &diag); code != http.StatusOK || len(diag.Hosts) != 0 {
		t.Fatalf("diagnostics = %d %+v", code, diag)
	}
}
