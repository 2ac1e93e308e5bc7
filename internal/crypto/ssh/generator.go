// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// package ssh provides cryptographic helpers for SSH key operations.
// This file contains logic for generating new SSH key pairs.
package ssh // import "github.com/toeirei/iscsictl/internal/crypto/ssh"

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// GenerateAndMarshalEd25519Key creates a new ed25519 key pair and returns them
// as formatted strings: the public key in authorized_keys format and the private
// key in PEM format. The private key is never encrypted; the channel keys are
// ephemeral and must be usable without a passphrase.
func GenerateAndMarshalEd25519Key(comment string) (publicKeyString string, privateKeyString string, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to create SSH public key: %w", err)
	}
	publicKeyString = AuthorizedKeyLine(sshPubKey, comment)

	pemBlock, err := ssh.MarshalPrivateKey(privKey, comment)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	privateKeyString = string(pem.EncodeToMemory(pemBlock))
	return publicKeyString, privateKeyString, nil
}

// AuthorizedKeyLine renders a public key as a single authorized_keys line
// without a trailing newline.
func AuthorizedKeyLine(key ssh.PublicKey, comment string) string {
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
	if comment != "" {
		line += " " + comment
	}
	return line
}

// PublicKeyFromPrivate derives the authorized_keys line for a PEM-encoded
// private key. It is used when only the private half survived on disk.
func PublicKeyFromPrivate(privateKeyPEM []byte, comment string) (string, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}
	return AuthorizedKeyLine(signer.PublicKey(), comment), nil
}
