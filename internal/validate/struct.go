// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/model"
)

// validate is the shared validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("unitname", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "" || ValidUnitName(v)
	})
	_ = validate.RegisterValidation("actionkind", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		return v == "" || model.ActionKind(v).Valid()
	})
	_ = validate.RegisterValidation("reportstatus", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		if v == "" {
			return true
		}
		s, ok := model.ParseStatus(v)
		return ok && s != model.StatusQueued
	})
}

// Struct validates v and returns a VALIDATION_ERROR describing every failed
// field.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return errs.Wrap(errs.Validation, err, "invalid payload")
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, formatFieldError(e))
	}
	return errs.New(errs.Validation, "validation failed: %s", strings.Join(messages, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := lowerFirst(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "unitname":
		return fmt.Sprintf("%s is not an allowed systemd unit name", field)
	case "actionkind":
		return fmt.Sprintf("%s must be one of: start stop restart status", field)
	case "reportstatus":
		return fmt.Sprintf("%s must be one of: running succeeded failed", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

// lowerFirst turns the Go field name into the JSON-style name clients send.
func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	if strings.HasSuffix(s, "ID") {
		s = strings.TrimSuffix(s, "ID") + "Id"
	}
	return strings.ToLower(s[:1]) + s[1:]
}
