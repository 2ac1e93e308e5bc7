// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for iscsictl.
//
// Usage:
//
//	go run . [flags] <command>
//	./iscsictl target --host admin
//
// See --help for options.
package main

import (
	"os"

	"github.com/toeirei/iscsictl/internal/logging"
	"github.com/toeirei/iscsictl/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
