// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package remote owns the SSH channel to one lab host. A Session bootstraps
// trust with a password once, then runs commands and edits files over a
// key-authenticated connection (exec channels plus the SFTP subsystem).
//
// Host key verification is off unless a known_hosts file is configured.
// That is a trade-off for throwaway lab networks and must not be carried
// into production deployments.
package remote
