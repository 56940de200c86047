// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package validate holds the allow-list checks applied before anything is
// queued or executed, plus struct validation for request payloads.
package validate

import (
	"errors"
	"regexp"
	"strings"

	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/model"
)

var (
	// ErrInvalidCommand is returned for any verb outside start/stop/restart/status.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrInvalidUnitName is returned for unit names outside the allow-listed patterns.
	ErrInvalidUnitName = errors.New("invalid unit name")
)

// unitPatterns are the accepted systemd unit shapes. The name body is limited
// to characters that can never be interpreted by a shell or as a flag.
var unitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[a-zA-Z0-9._@-]+\.service$`),
	regexp.MustCompile(`^[a-zA-Z0-9._@-]+\.socket$`),
	regexp.MustCompile(`^[a-zA-Z0-9._@-]+\.timer$`),
	regexp.MustCompile(`^[a-zA-Z0-9._@-]+\.path$`),
}

// maxUnitNameLen mirrors systemd's own limit (UNIT_NAME_MAX).
const maxUnitNameLen = 256

// ValidUnitName reports whether name matches one of the allow-listed patterns.
func ValidUnitName(name string) bool {
	if name == "" || len(name) > maxUnitNameLen || strings.HasPrefix(name, "-") {
		return false
	}
	for _, p := range unitPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// Command checks a command verb and unit name. The returned error wraps
// ErrInvalidCommand or ErrInvalidUnitName and is classified VALIDATION_ERROR.
func Command(command, unitName string) error {
	if !model.ActionKind(command).Valid() {
		return &errs.Error{Kind: errs.Validation, Message: "command must be one of start, stop, restart, status", Err: ErrInvalidCommand}
	}
	if !ValidUnitName(unitName) {
		return &errs.Error{Kind: errs.Validation, Message: "unit name must be <name>.service|.socket|.timer|.path using [a-zA-Z0-9._@-]", Err: ErrInvalidUnitName}
	}
	return nil
}

// ServiceUnit checks a unit name offered for registration as a managed
// service: it must be valid and a .service unit.
func ServiceUnit(unitName string) error {
	if !ValidUnitName(unitName) || !strings.HasSuffix(unitName, ".service") {
		return &errs.Error{Kind: errs.Validation, Message: "managed services must be registered as <name>.service", Err: ErrInvalidUnitName}
	}
	return nil
}

// Permitted applies the per-service permission flags on top of the
// syntactic checks.
func Permitted(kind model.ActionKind, svc model.ManagedService) error {
	if !kind.Valid() {
		return &errs.Error{Kind: errs.Validation, Message: "command must be one of start, stop, restart, status", Err: ErrInvalidCommand}
	}
	if !svc.Allows(kind) {
		return errs.New(errs.Forbidden, "%s is not permitted on %s", kind, svc.UnitName)
	}
	return nil
}
