// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package auth

import (
	"net/http"
	"strings"

	"github.com/zjgordon/labportal/internal/errs"
)

// HTTP headers used for authentication.
const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	CronSecretHeader    = "X-Cron-Secret"
)

// ErrorHandler writes an authentication failure to the client.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	http.Error(w, err.Error(), errs.HTTPStatus(errs.KindOf(err)))
}

// BearerToken extracts the bearer credential from the Authorization header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) string {
	h := r.Header.Get(AuthorizationHeader)
	if len(h) < len(BearerPrefix) || !strings.EqualFold(h[:len(BearerPrefix)], BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(BearerPrefix):])
}

// RequireAgent admits only requests carrying a valid agent token and stores
// the AgentPrincipal in the request context.
func (g *Guard) RequireAgent(onErr ErrorHandler) func(http.Handler) http.Handler {
	if onErr == nil {
		onErr = defaultErrorHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := g.AuthenticateAgent(r.Context(), BearerToken(r))
			if err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin admits only requests carrying the admin credential and stores
// the AdminPrincipal in the request context.
func (g *Guard) RequireAdmin(onErr ErrorHandler) func(http.Handler) http.Handler {
	if onErr == nil {
		onErr = defaultErrorHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := g.AuthenticateAdmin(r.Context(), BearerToken(r))
			if err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireCronSecret admits only requests whose x-cron-secret header matches
// the configured secret.
func (g *Guard) RequireCronSecret(onErr ErrorHandler) func(http.Handler) http.Handler {
	if onErr == nil {
		onErr = defaultErrorHandler
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.CheckCronSecret(r.Header.Get(CronSecretHeader)); err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
