// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keys manages the ephemeral, passphrase-less SSH key pair a remote
// session authenticates with. Keys live on local disk, owner-only, and are
// reused for the same host until removed.
package keys
