// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
)

type fakeHosts map[string]model.Host

func (f fakeHosts) GetHostByTokenHash(_ context.Context, hash string) (model.Host, error) {
	if h, ok := f[hash]; ok {
		return h, nil
	}
	return model.Host{}, db.ErrNotFound
}

type brokenHosts struct{}

func (brokenHosts) GetHostByTokenHash(context.Context, string) (model.Host, error) {
	return model.Host{}, errors.New("database is locked")
}

// newTestGuard returns a guard with one registered agent token, its
// plaintext and the plaintext admin credential.
func newTestGuard(t *testing.T) (*Guard, string, string) {
	t.Helper()
	token, err := security.GenerateAgentToken()
	if err != nil {
		t.Fatalf("GenerateAgentToken: %v", err)
	}
	hosts := fakeHosts{security.HashToken(token): {ID: "host-1", Name: "alpha"}}
	hash, err := security.HashAdminCredential("correct horse")
	if err != nil {
		t.Fatalf("HashAdminCredential: %v", err)
	}
	return NewGuard(hosts, hash, "cron-s3cret"), token, "correct horse"
}

func TestAuthenticateAgent(t *testing.T) {
	g, token, admin := newTestGuard(t)
	ctx := context.Background()

	p, err := g.AuthenticateAgent(ctx, token)
	if err != nil || p.HostID != "host-1" {
		t.Fatalf("AuthenticateAgent = %+v, %v", p, err)
	}
	for _, bad := range []string{"", "lpa_unknown", admin} {
		if _, err := g.AuthenticateAgent(ctx, bad); !errs.Is(err, errs.Unauthorized) {
			t.Errorf("AuthenticateAgent(%q) kind = %s; want UNAUTHORIZED", bad, errs.KindOf(err))
		}
	}

	broken := NewGuard(brokenHosts{}, "", "")
	if _, err := broken.AuthenticateAgent(ctx, token); !errs.Is(err, errs.Internal) {
		t.Fatalf("store failure kind = %s; want INTERNAL_ERROR", errs.KindOf(err))
	}
}

func TestAuthenticateAdmin(t *testing.T) {
	g, token, admin := newTestGuard(t)
	ctx := context.Background()

	p, err := g.AuthenticateAdmin(ctx, admin)
	if err != nil || p.ID != AdminIdentity {
		t.Fatalf("AuthenticateAdmin = %+v, %v", p, err)
	}
	if _, err := g.AuthenticateAdmin(ctx, token); !errs.Is(err, errs.Forbidden) {
		t.Fatalf("agent token on admin kind = %s; want FORBIDDEN", errs.KindOf(err))
	}
	if _, err := g.AuthenticateAdmin(ctx, "wrong"); !errs.Is(err, errs.Unauthorized) {
		t.Fatalf("wrong credential kind = %s; want UNAUTHORIZED", errs.KindOf(err))
	}
	if _, err := g.AuthenticateAdmin(ctx, ""); !errs.Is(err, errs.Unauthorized) {
		t.Fatalf("empty credential kind = %s; want UNAUTHORIZED", errs.KindOf(err))
	}

	unconfigured := NewGuard(fakeHosts{}, "", "")
	if _, err := unconfigured.AuthenticateAdmin(ctx, admin); !errs.Is(err, errs.Unauthorized) {
		t.Fatalf("unconfigured admin kind = %s; want UNAUTHORIZED", errs.KindOf(err))
	}
}

func TestCheckCronSecret(t *testing.T) {
	g, _, _ := newTestGuard(t)
	if err := g.CheckCronSecret("cron-s3cret"); err != nil {
		t.Fatalf("CheckCronSecret(valid) = %v", err)
	}
	if err := g.CheckCronSecret("nope"); !errs.Is(err, errs.Unauthorized) {
		t.Fatalf("wrong secret kind = %s", errs.KindOf(err))
	}
	if err := g.CheckCronSecret(""); !errs.Is(err, errs.Unauthorized) {
		t.Fatalf("missing secret kind = %s", errs.KindOf(err))
	}
	disabled := NewGuard(fakeHosts{}, "", "")
	if err := disabled.CheckCronSecret("anything"); !errs.Is(err, errs.Forbidden) {
		t.Fatalf("disabled cron kind = %s; want FORBIDDEN", errs.KindOf(err))
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set(AuthorizationHeader, header)
		}
		if got := BearerToken(r); got != want {
			t.Errorf("BearerToken(%q) = %q; want %q", header, got, want)
		}
	}
}

func TestRequireAgentStoresPrincipal(t *testing.T) {
	g, token, admin := newTestGuard(t)
	var seen string
	h := g.RequireAgent(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := AgentFrom(r.Context())
		if !ok {
			t.Errorf("no agent principal in context")
		}
		if _, ok := AdminFrom(r.Context()); ok {
			t.Errorf("agent context must not yield an admin principal")
		}
		seen = p.HostID
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/heartbeat", nil)
	req.Header.Set(AuthorizationHeader, "Bearer "+token)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != "host-1" {
		t.Fatalf("status = %d, host = %q", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/agent/heartbeat", nil)
	req.Header.Set(AuthorizationHeader, "Bearer "+admin)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin credential on agent route = %d; want 401", rec.Code)
	}
}

func TestRequireAdminRejectsAgentToken(t *testing.T) {
	g, token, _ := newTestGuard(t)
	called := false
	h := g.RequireAdmin(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/hosts", nil)
	req.Header.Set(AuthorizationHeader, "Bearer "+token)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || called {
		t.Fatalf("status = %d, called = %v; want 403 and no call", rec.Code, called)
	}
}

func TestRequireCronSecret(t *testing.T) {
	g, _, _ := newTestGuard(t)
	h := g.RequireCronSecret(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/prune", nil)
	req.Header.Set("x-cron-secret", "cron-s3cret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d; want 204", rec.Code)
	}
}
