// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the labportal command-line interface using Cobra.
// It loads configuration, opens the store and delegates to the control,
// pruner and agent packages. CLI code should remain thin.
package cli
