// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Command labportal-agent runs on a managed host, polls the portal for
// queued service actions and executes them with systemctl.
package main

import (
	"os"

	"github.com/zjgordon/labportal/ui/cli"
)

func main() {
	if err := cli.NewAgentRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
