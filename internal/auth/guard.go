// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package auth resolves bearer credentials into principals and guards the
// agent and admin halves of the HTTP surface.
package auth

import (
	"context"
	"errors"

	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
)

// HostLookup resolves an agent token hash to its host.
type HostLookup interface {
	GetHostByTokenHash(ctx context.Context, hash string) (model.Host, error)
}

// Guard authenticates agents against stored token hashes and the admin
// against a bcrypt hash from configuration.
type Guard struct {
	hosts      HostLookup
	adminHash  string
	cronSecret security.Secret
}

// NewGuard returns a Guard. An empty adminHash disables admin access and an
// empty cronSecret disables cron-gated routes.
func NewGuard(hosts HostLookup, adminHash, cronSecret string) *Guard {
	return &Guard{
		hosts:      hosts,
		adminHash:  adminHash,
		cronSecret: security.FromString(cronSecret),
	}
}

// AuthenticateAgent resolves an agent bearer token to the host it was
// issued for.
func (g *Guard) AuthenticateAgent(ctx context.Context, bearer string) (AgentPrincipal, error) {
	if bearer == "" {
		return AgentPrincipal{}, errs.New(errs.Unauthorized, "missing agent token")
	}
	host, err := g.hosts.GetHostByTokenHash(ctx, security.HashToken(bearer))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return AgentPrincipal{}, errs.New(errs.Unauthorized, "invalid agent token")
		}
		return AgentPrincipal{}, errs.Wrap(errs.Internal, err, "resolve agent token")
	}
	return AgentPrincipal{HostID: host.ID}, nil
}

// AuthenticateAdmin verifies the admin credential. Agent tokens are refused
// before any verification takes place.
func (g *Guard) AuthenticateAdmin(_ context.Context, bearer string) (AdminPrincipal, error) {
	if err := rejectAgentTokens(bearer); err != nil {
		return AdminPrincipal{}, err
	}
	if bearer == "" {
		return AdminPrincipal{}, errs.New(errs.Unauthorized, "missing admin credential")
	}
	if g.adminHash == "" {
		return AdminPrincipal{}, errs.New(errs.Unauthorized, "admin access is not configured")
	}
	if !security.CheckAdminCredential(bearer, g.adminHash) {
		return AdminPrincipal{}, errs.New(errs.Unauthorized, "invalid admin credential")
	}
	return AdminPrincipal{ID: AdminIdentity}, nil
}

func rejectAgentTokens(bearer string) error {
	if security.IsAgentToken(bearer) {
		return errs.New(errs.Forbidden, "agent tokens cannot access admin routes")
	}
	return nil
}

// CheckCronSecret compares the x-cron-secret header value with the
// configured secret in constant time.
func (g *Guard) CheckCronSecret(header string) error {
	if g.cronSecret.Empty() {
		return errs.New(errs.Forbidden, "cron-triggered routes are disabled")
	}
	if header == "" {
		return errs.New(errs.Unauthorized, "missing cron secret")
	}
	if !g.cronSecret.Equal(header) {
		return errs.New(errs.Unauthorized, "invalid cron secret")
	}
	return nil
}
