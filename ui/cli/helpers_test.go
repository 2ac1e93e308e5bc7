// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toeirei/iscsictl/internal/i18n"
	"github.com/toeirei/iscsictl/internal/iscsi"
	"github.com/toeirei/iscsictl/internal/logging"
	"github.com/toeirei/iscsictl/internal/remote"
	"github.com/toeirei/iscsictl/internal/testutil"
)

const (
	testIQN    = "iqn.2015-01.qa.cloud.suse.de:id01"
	testPortal = "10.0.0.1:3260"
)

// fakeSession wraps a FakeHost so it can stand in for a remote session.
type fakeSession struct {
	*testutil.FakeHost
	mu     sync.Mutex
	closed int
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// lab is a set of fake hosts reachable by name.
type lab struct {
	hosts   map[string]*fakeSession
	configs []remote.Config
	loops   map[string]map[string]string
}

// newLab isolates configuration and journal in temporary directories and
// routes every session to the lab's fake hosts.
func newLab(t *testing.T) *lab {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("HOME", dir)
	t.Setenv("ISCSICTL_DATABASE_DSN", filepath.Join(dir, "history.db"))
	t.Chdir(dir)
	logging.SetOutput(io.Discard)
	t.Cleanup(func() { i18n.Init("en") })

	l := &lab{hosts: map[string]*fakeSession{}, loops: map[string]map[string]string{}}
	origOpen := openHost
	openHost = func(cfg remote.Config) (hostSession, error) {
		l.configs = append(l.configs, cfg)
		h, ok := l.hosts[cfg.Host]
		if !ok {
			return nil, fmt.Errorf("dial %s: no route to host", cfg.Host)
		}
		return h, nil
	}
	origSleep := sleep
	sleep = func(d time.Duration) {}
	t.Cleanup(func() {
		openHost = origOpen
		sleep = origSleep
	})
	return l
}

// addTarget registers a host that binds loop devices and lists every
// configured target in its volume table.
func (l *lab) addTarget(name string) *fakeSession {
	h := &fakeSession{FakeHost: testutil.NewFakeHost()}
	loops := map[string]string{}
	l.loops[name] = loops
	h.Handle("losetup", func(args []string, _ string) (string, error) {
		switch {
		case len(args) == 1 && args[0] == "-a":
			names := make([]string, 0, len(loops))
			for n := range loops {
				names = append(names, n)
			}
			sort.Strings(names)
			var b strings.Builder
			for _, n := range names {
				fmt.Fprintf(&b, "%s: [2049]:1234 (%s)\n", n, loops[n])
			}
			return b.String(), nil
		case len(args) == 2 && args[0] == "-d":
			delete(loops, args[1])
		case len(args) == 2:
			loops[args[0]] = args[1]
		}
		return "", nil
	})
	h.Handle("cat", func(args []string, _ string) (string, error) {
		conf, _ := h.File(iscsi.DefaultTargetConfig)
		var b strings.Builder
		for _, line := range strings.Split(conf, "\n") {
			if name, ok := strings.CutPrefix(line, "Target "); ok {
				fmt.Fprintf(&b, "tid:1 name:%s\n\tlun:0 path:/dev/loop0\n", name)
			}
		}
		return b.String(), nil
	})
	l.hosts[name] = h
	return h
}

// addInitiator registers a host whose discovery finds discovered and whose
// lsscsi lists /dev/sda.
func (l *lab) addInitiator(name, discovered string) *fakeSession {
	h := &fakeSession{FakeHost: testutil.NewFakeHost()}
	h.Handle("iscsiadm", func(args []string, _ string) (string, error) {
		if len(args) > 1 && args[1] == "discovery" {
			return testPortal + ",1 " + discovered + "\n", nil
		}
		return "", nil
	})
	h.Handle("lsscsi", func([]string, string) (string, error) {
		return "[2:0:0:0]    disk    IET      VIRTUAL-DISK     0     /dev/sda\n", nil
	})
	l.hosts[name] = h
	return h
}

// run executes one command line against a fresh root command.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("iscsictl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}
