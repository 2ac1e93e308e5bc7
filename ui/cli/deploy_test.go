// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/toeirei/iscsictl/internal/iscsi"
)

func TestTargetCmd_ExportsLoopDevice(t *testing.T) {
	l := newLab(t)
	admin := l.addTarget("admin")

	out := mustRun(t, "target", "--host", "admin", "--size", "4")
	if !strings.Contains(out, "Target "+testIQN+" exported on admin") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !admin.Ran("zypper --non-interactive install --no-recommends iscsitarget") {
		t.Fatalf("package not installed: %v", admin.Calls())
	}
	if !admin.Ran("dd if=/dev/zero of=/tmp/id01-iscsi.loop bs=1M count=4") {
		t.Fatalf("backing file not created from --size: %v", admin.Calls())
	}
	conf, _ := admin.File(iscsi.DefaultTargetConfig)
	if !strings.Contains(conf, "Target "+testIQN+"\n") || !strings.Contains(conf, "IncomingUser user passwd\n") {
		t.Fatalf("unexpected target config:\n%s", conf)
	}
	if admin.Closed() != 1 {
		t.Fatalf("expected session to be closed once, got %d", admin.Closed())
	}
}

func TestTargetCmd_FlagsOverrideConfig(t *testing.T) {
	l := newLab(t)
	admin := l.addTarget("admin")

	mustRun(t, "--user", "lab", "-p", "secret", "target", "--host", "admin", "--id", "vol7", "--path", "/srv/vol7.img")
	if len(l.configs) != 1 {
		t.Fatalf("expected one session, got %d", len(l.configs))
	}
	if c := l.configs[0]; c.User != "lab" || c.Password != "secret" || c.Host != "admin" {
		t.Fatalf("unexpected session config: %+v", c)
	}
	if !admin.Ran("losetup /dev/loop0 /srv/vol7.img") {
		t.Fatalf("--path not used: %v", admin.Calls())
	}
	conf, _ := admin.File(iscsi.DefaultTargetConfig)
	if !strings.Contains(conf, "Target iqn.2015-01.qa.cloud.suse.de:vol7") {
		t.Fatalf("--id not used:\n%s", conf)
	}
}

func TestTargetCmd_RequiresHost(t *testing.T) {
	newLab(t)
	_, err := run(t, "target")
	if err == nil || !strings.Contains(err.Error(), `"host"`) {
		t.Fatalf("expected missing host error, got %v", err)
	}
}

func TestTargetCmd_UnreachableHostIsJournaled(t *testing.T) {
	newLab(t)
	if _, err := run(t, "target", "--host", "ghost"); err == nil {
		t.Fatal("expected an error for an unknown host")
	}
	out := mustRun(t, "history")
	if !strings.Contains(out, "ghost") || !strings.Contains(out, "failed") {
		t.Fatalf("failed run not journaled:\n%s", out)
	}
}

func TestAskPassword(t *testing.T) {
	l := newLab(t)
	l.addTarget("admin")
	orig := readPassword
	var prompt string
	readPassword = func(p string) (string, error) {
		prompt = p
		return "typed", nil
	}
	t.Cleanup(func() { readPassword = orig })

	mustRun(t, "--ask-password", "target", "--host", "admin")
	if prompt != "Password for root: " {
		t.Fatalf("unexpected prompt %q", prompt)
	}
	if l.configs[0].Password != "typed" {
		t.Fatalf("prompted password not used: %+v", l.configs[0])
	}
}

func TestLangFlag(t *testing.T) {
	l := newLab(t)
	l.addTarget("admin")
	out := mustRun(t, "--lang", "de", "target", "--host", "admin")
	if !strings.Contains(out, "Target "+testIQN+" auf admin freigegeben") {
		t.Fatalf("expected German output, got %q", out)
	}
}

func TestInitiatorCmd_LogsIn(t *testing.T) {
	l := newLab(t)
	node := l.addInitiator("node1", testIQN)

	out := mustRun(t, "initiator", "--host", "node1", "--target-host", "admin")
	if !strings.Contains(out, "Initiator on node1 logged in to "+testIQN) {
		t.Fatalf("unexpected output: %q", out)
	}
	if !node.Ran("iscsiadm -m discovery --type=st --portal=admin") {
		t.Fatalf("discovery not run: %v", node.Calls())
	}
	if !node.Ran("iscsiadm -m node -T " + testIQN + " -p " + testPortal + " --login") {
		t.Fatalf("login not run: %v", node.Calls())
	}
	history := mustRun(t, "history")
	if !strings.Contains(history, testIQN) || !strings.Contains(history, "succeeded") {
		t.Fatalf("initiator IQN not journaled:\n%s", history)
	}
}

func TestInitiatorCmd_TargetNotFound(t *testing.T) {
	l := newLab(t)
	l.addInitiator("node1", "iqn.2015-01.qa.cloud.suse.de:other")

	_, err := run(t, "initiator", "--host", "node1", "--target-host", "admin")
	var nf *iscsi.TargetNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected TargetNotFoundError, got %v", err)
	}
	if nf.ID != "id01" || nf.Portal != "admin" {
		t.Fatalf("unexpected error fields: %+v", nf)
	}
}

func TestInitiatorCmd_RequiresTargetHost(t *testing.T) {
	newLab(t)
	_, err := run(t, "initiator", "--host", "node1")
	if err == nil || !strings.Contains(err.Error(), `"target-host"`) {
		t.Fatalf("expected missing target-host error, got %v", err)
	}
}

func TestLogoutCmd(t *testing.T) {
	l := newLab(t)
	node := l.addInitiator("node1", testIQN)

	out := mustRun(t, "logout", "--host", "node1", "--target-host", "admin")
	if !strings.Contains(out, "Logged out of "+testIQN+" on node1") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !node.Ran("iscsiadm -m node -T " + testIQN + " -p " + testPortal + " --logout") {
		t.Fatalf("logout not run: %v", node.Calls())
	}
	if node.Ran("zypper") {
		t.Fatal("logout must not install packages")
	}
}

func TestLoopDestroyCmd(t *testing.T) {
	l := newLab(t)
	admin := l.addTarget("admin")
	l.loops["admin"]["/dev/loop0"] = "/tmp/id01-iscsi.loop"

	out := mustRun(t, "loop", "destroy", "--host", "admin")
	if !strings.Contains(out, "Loop device /dev/loop0 released on admin") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !admin.Ran("losetup -d /dev/loop0") || !admin.Ran("rm -f /tmp/id01-iscsi.loop") {
		t.Fatalf("loop not destroyed: %v", admin.Calls())
	}
}

func TestLoopDestroyCmd_RejectsBlockDevice(t *testing.T) {
	l := newLab(t)
	admin := l.addTarget("admin")

	_, err := run(t, "loop", "destroy", "--host", "admin", "--device", "/dev/sdb")
	var ce *iscsi.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(admin.Calls()) != 0 {
		t.Fatalf("no command should run: %v", admin.Calls())
	}
}
