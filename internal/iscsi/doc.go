// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package iscsi deploys the two sides of an iSCSI share on lab hosts: a
// Target that exports a block device (optionally a freshly made loop
// device) and an Initiator that discovers and logs in to it.
//
// Deployments are sequential and stop at the first failing step. A Target
// verifies that its volume is exported; an Initiator does not check the
// session after login.
package iscsi // import "github.com/toeirei/iscsictl/internal/iscsi"
