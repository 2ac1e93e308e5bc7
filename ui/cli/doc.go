// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the iscsictl command line using Cobra. Commands
// stay thin: they load configuration, open a remote session per host and
// hand it to the deployments in internal/iscsi, recording each run in the
// journal.
package cli
