// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for labPortal.
//
// Usage:
//
//	go run . [flags]
//	./labportal serve
//
// This launches the labportal CLI. See --help for options.
package main

import (
	"log"
	"os"

	"github.com/zjgordon/labportal/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Printf("labportal: %v", err)
		os.Exit(1)
	}
}
