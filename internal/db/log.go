// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/zjgordon/labportal/internal/logging"

var (
	debugEnabled bool
	dbLog        = logging.With("db")
)

// SetDebug enables or disables DB debug logging. Disabled by default.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}

func dbLogf(format string, v ...any) {
	if debugEnabled {
		dbLog.Debugf(format, v...)
	}
}
