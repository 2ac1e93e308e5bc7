// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds test doubles shared across packages: an in-process
// SSH server with an SFTP subsystem and an in-memory host.
package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ExecHandler serves one exec request and returns the exit status.
type ExecHandler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int

// SSHServer is a minimal sshd for tests. Password logins go through
// keyboard-interactive with a "Password: " prompt and may only install a
// key; everything else needs a key that was installed that way.
type SSHServer struct {
	Host     string
	Port     int
	User     string
	Password string
	// Root is the SFTP working directory and holds .ssh/authorized_keys.
	Root string
	// Prompt is the keyboard-interactive question. Defaults to "Password: ".
	Prompt string
	// Retries is how many prompts a failed login gets before it is refused.
	Retries int

	handler  ExecHandler
	listener net.Listener
	config   *ssh.ServerConfig

	mu             sync.Mutex
	authorized     map[string]bool
	commands       []string
	passwordLogins int
	keyLogins      int
}

var installedKeyRe = regexp.MustCompile(`'(ssh-[a-z0-9-]+ [A-Za-z0-9+/=]+[^']*)'`)

// NewSSHServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewSSHServer(t testing.TB, user, password string, handler ExecHandler) *SSHServer {
	t.Helper()
	srv := &SSHServer{
		User:       user,
		Password:   password,
		Root:       t.TempDir(),
		Prompt:     "Password: ",
		Retries:    3,
		handler:    handler,
		authorized: map[string]bool{},
	}

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	srv.config = &ssh.ServerConfig{
		KeyboardInteractiveCallback: srv.keyboardInteractive,
		PublicKeyCallback:           srv.publicKey,
	}
	srv.config.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = l
	host, port, _ := net.SplitHostPort(l.Addr().String())
	srv.Host = host
	srv.Port, _ = strconv.Atoi(port)

	go srv.serve()
	t.Cleanup(func() { _ = l.Close() })
	return srv
}

// Addr returns host:port.
func (s *SSHServer) Addr() string { return s.listener.Addr().String() }

// Commands returns every exec command line seen so far, including the key
// installation snippet.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// PasswordLogins counts successful password logins.
func (s *SSHServer) PasswordLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passwordLogins
}

// KeyLogins counts successful public key logins.
func (s *SSHServer) KeyLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyLogins
}

// AuthorizedKeys returns the content of Root/.ssh/authorized_keys.
func (s *SSHServer) AuthorizedKeys() string {
	b, _ := os.ReadFile(filepath.Join(s.Root, ".ssh", "authorized_keys"))
	return string(b)
}

func (s *SSHServer) keyboardInteractive(c ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
	for i := 0; i < s.Retries; i++ {
		answers, err := challenge(c.User(), "", []string{s.Prompt}, []bool{false})
		if err != nil {
			return nil, err
		}
		if c.User() == s.User && len(answers) == 1 && answers[0] == s.Password {
			s.mu.Lock()
			s.passwordLogins++
			s.mu.Unlock()
			return &ssh.Permissions{Extensions: map[string]string{"auth": "password"}}, nil
		}
	}
	return nil, errors.New("access denied")
}

func (s *SSHServer) publicKey(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.User() == s.User && s.authorized[string(key.Marshal())] && strings.Contains(s.readAuthorizedKeys(), keyBlob(key)) {
		s.keyLogins++
		return &ssh.Permissions{Extensions: map[string]string{"auth": "publickey"}}, nil
	}
	return nil, errors.New("unknown key")
}

func keyBlob(key ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
}

func (s *SSHServer) readAuthorizedKeys() string {
	b, _ := os.ReadFile(filepath.Join(s.Root, ".ssh", "authorized_keys"))
	return string(b)
}

func (s *SSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(nConn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		_ = nConn.Close()
		return
	}
	defer func() { _ = sconn.Close() }()
	go ssh.DiscardRequests(reqs)

	viaPassword := sconn.Permissions != nil && sconn.Permissions.Extensions["auth"] == "password"
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only session channels")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests, viaPassword)
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request, viaPassword bool) {
	defer func() { _ = ch.Close() }()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			var status int
			if viaPassword {
				status = s.installKey(payload.Command, ch.Stderr())
			} else {
				status = s.runHandler(payload.Command, ch)
			}
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" || viaPassword {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(ch, sftp.WithServerWorkingDirectory(s.Root))
			if err != nil {
				return
			}
			_ = server.Serve()
			_ = server.Close()
			return
		default:
			_ = req.Reply(req.Type == "pty-req" || req.Type == "env", nil)
		}
	}
}

func (s *SSHServer) runHandler(cmd string, ch ssh.Channel) int {
	if s.handler == nil {
		return 0
	}
	return s.handler(cmd, ch, ch, ch.Stderr())
}

// installKey emulates the authorized_keys snippet a password login runs.
func (s *SSHServer) installKey(cmd string, stderr io.Writer) int {
	m := installedKeyRe.FindStringSubmatch(cmd)
	if m == nil || !strings.Contains(cmd, "authorized_keys") {
		_, _ = io.WriteString(stderr, "password sessions may only install keys\n")
		return 1
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(m[1]))
	if err != nil {
		_, _ = io.WriteString(stderr, err.Error()+"\n")
		return 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.Root, ".ssh")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 1
	}
	path := filepath.Join(dir, "authorized_keys")
	current, _ := os.ReadFile(path)
	if !bytes.Contains(current, []byte(m[1])) {
		if len(current) > 0 && !bytes.HasSuffix(current, []byte("\n")) {
			current = append(current, '\n')
		}
		current = append(current, []byte(m[1]+"\n")...)
		if err := os.WriteFile(path, current, 0o600); err != nil {
			return 1
		}
	}
	s.authorized[string(key.Marshal())] = true
	return 0
}
