// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/logging"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromError converts err into an APIError. Internal errors never expose
// their cause to the client.
func FromError(err error) *APIError {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	msg := err.Error()
	if kind == errs.Internal {
		msg = "internal error"
	}
	return &APIError{Status: status, Code: string(kind), Message: msg}
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logging.Errorf("api: %s %s: %v", r.Method, r.URL.Path, err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(apiErr)
}
