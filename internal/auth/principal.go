// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package auth

import "context"

// AdminIdentity is the only admin subject the control plane accepts.
const AdminIdentity = "admin"

// Principal is the authenticated caller of a request. It is implemented
// only by AgentPrincipal and AdminPrincipal; handlers switch on the
// concrete type.
type Principal interface {
	Subject() string
	principal()
}

// AgentPrincipal is an agent acting for exactly one host.
type AgentPrincipal struct {
	HostID string
}

// Subject returns the host id the agent acts for.
func (p AgentPrincipal) Subject() string { return p.HostID }
func (AgentPrincipal) principal()        {}

// AdminPrincipal is the portal administrator.
type AdminPrincipal struct {
	ID string
}

// Subject returns the admin identity.
func (p AdminPrincipal) Subject() string { return p.ID }
func (AdminPrincipal) principal()        {}

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// AgentFrom returns the agent principal stored in ctx. It reports false for
// admin principals and unauthenticated contexts.
func AgentFrom(ctx context.Context) (AgentPrincipal, bool) {
	p, _ := PrincipalFrom(ctx)
	switch v := p.(type) {
	case AgentPrincipal:
		return v, true
	case AdminPrincipal, nil:
		return AgentPrincipal{}, false
	}
	return AgentPrincipal{}, false
}

// AdminFrom returns the admin principal stored in ctx.
func AdminFrom(ctx context.Context) (AdminPrincipal, bool) {
	p, _ := PrincipalFrom(ctx)
	switch v := p.(type) {
	case AdminPrincipal:
		return v, true
	case AgentPrincipal, nil:
		return AdminPrincipal{}, false
	}
	return AdminPrincipal{}, false
}
