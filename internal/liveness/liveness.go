// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package liveness derives host online state from the last heartbeat.
package liveness

import (
	"time"

	"github.com/zjgordon/labportal/internal/model"
)

// OnlineWindow is how long after its last heartbeat a host counts as online.
const OnlineWindow = 5 * time.Minute

// IsOnline reports whether a host last seen at lastSeen is online at now.
// A host that was never seen is offline.
func IsOnline(lastSeen *time.Time, now time.Time) bool {
	if lastSeen == nil {
		return false
	}
	return now.Sub(*lastSeen) < OnlineWindow
}

// Summarize attaches the derived online flag to h.
func Summarize(h model.Host, now time.Time) model.HostSummary {
	return model.HostSummary{Host: h, Online: IsOnline(h.LastSeenAt, now)}
}

// SummarizeAll summarises every host against the same instant.
func SummarizeAll(hosts []model.Host, now time.Time) []model.HostSummary {
	out := make([]model.HostSummary, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, Summarize(h, now))
	}
	return out
}
