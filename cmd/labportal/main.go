// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Command labportal runs the portal server and its admin commands.
package main

import (
	"os"

	"github.com/zjgordon/labportal/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}
