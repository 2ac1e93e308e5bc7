// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package iscsi

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func loopTarget(t *testing.T, h *labHost) *Target {
	return NewTarget(h, sysv(t, h), TargetConfig{
		Device:      "/dev/loop0",
		BackingPath: DefaultBackingPath("id01"),
		ID:          "id01",
		SizeMB:      4,
	})
}

func TestTarget_DeployLoopDevice(t *testing.T) {
	h := newLabHost(t)
	tg := loopTarget(t, h)
	if err := tg.Deploy(); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	want := []string{
		"zypper --non-interactive install --no-recommends iscsitarget",
		"losetup -a",
		"dd if=/dev/zero of=/tmp/id01-iscsi.loop bs=1M count=4",
		"fdisk /tmp/id01-iscsi.loop",
		"losetup /dev/loop0 /tmp/id01-iscsi.loop",
		"losetup -a",
		"chkconfig iscsitarget on",
		"rciscsitarget restart",
		"cat /proc/net/iet/volume",
	}
	if got := callLines(h.FakeHost); !reflect.DeepEqual(got, want) {
		t.Fatalf("commands:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	for _, c := range h.Calls() {
		if c.Name == "fdisk" && c.Stdin != "o\nn\np\n1\n\n\nw\n" {
			t.Fatalf("fdisk script = %q", c.Stdin)
		}
	}

	conf, _ := h.File(DefaultTargetConfig)
	if want := "# IET configuration\nIncomingUser user passwd\nTarget iqn.2015-01.qa.cloud.suse.de:id01\n\tLun 0 Path=/dev/loop0\n"; conf != want {
		t.Fatalf("ietd.conf = %q", conf)
	}
	boot, _ := h.File(DefaultBootScript)
	if want := "#! /bin/sh\nlosetup /dev/loop0 /tmp/id01-iscsi.loop\nrciscsitarget restart\n"; boot != want {
		t.Fatalf("boot.local = %q", boot)
	}
	if tg.IQN() != "iqn.2015-01.qa.cloud.suse.de:id01" {
		t.Fatalf("IQN = %s", tg.IQN())
	}
}

func TestTarget_SecondDeployFails(t *testing.T) {
	h := newLabHost(t)
	tg := loopTarget(t, h)
	if err := tg.Deploy(); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if err := tg.Deploy(); !errors.Is(err, ErrAlreadyDeployed) {
		t.Fatalf("expected ErrAlreadyDeployed, got %v", err)
	}
}

func TestTarget_RedeployKeepsBootScriptSingle(t *testing.T) {
	h := newLabHost(t)
	if err := loopTarget(t, h).Deploy(); err != nil {
		t.Fatalf("first Deploy: %v", err)
	}
	// a reboot without the boot script drops the binding
	delete(h.loops, "/dev/loop0")
	if err := loopTarget(t, h).Deploy(); err != nil {
		t.Fatalf("second Deploy: %v", err)
	}

	boot, _ := h.File(DefaultBootScript)
	if strings.Count(boot, "rciscsitarget restart\n") != 1 {
		t.Fatalf("restart line not unique: %q", boot)
	}
	if strings.Count(boot, "losetup /dev/loop0 /tmp/id01-iscsi.loop\n") != 1 {
		t.Fatalf("rebind line not unique: %q", boot)
	}
	if !strings.HasSuffix(boot, "rciscsitarget restart\n") {
		t.Fatalf("restart line must be last: %q", boot)
	}
	conf, _ := h.File(DefaultTargetConfig)
	if strings.Count(conf, "Target iqn.2015-01.qa.cloud.suse.de:id01") != 1 {
		t.Fatalf("target declared twice: %q", conf)
	}
}

func TestTarget_RestartLineMovesToEnd(t *testing.T) {
	h := newLabHost(t)
	h.SetFile(DefaultBootScript, "#! /bin/sh\nrciscsitarget restart\nmount -a\n")
	if err := loopTarget(t, h).Deploy(); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	boot, _ := h.File(DefaultBootScript)
	if want := "#! /bin/sh\nmount -a\nlosetup /dev/loop0 /tmp/id01-iscsi.loop\nrciscsitarget restart\n"; boot != want {
		t.Fatalf("boot.local = %q", boot)
	}
}

func TestTarget_AlreadyBoundLoop(t *testing.T) {
	h := newLabHost(t)
	h.loops["/dev/loop0"] = "/srv/other.img"

	err := loopTarget(t, h).Deploy()
	var bound *AlreadyBoundError
	if !errors.As(err, &bound) {
		t.Fatalf("expected AlreadyBoundError, got %v", err)
	}
	if bound.Backing != "/srv/other.img" {
		t.Fatalf("backing = %s", bound.Backing)
	}
	if h.loops["/dev/loop0"] != "/srv/other.img" {
		t.Fatalf("existing binding changed")
	}
	if h.Ran("dd") || h.Ran("losetup -d") {
		t.Fatalf("no loop changes expected: %v", callLines(h.FakeHost))
	}
	if conf, _ := h.File(DefaultTargetConfig); strings.Contains(conf, "Target") {
		t.Fatalf("config must not be touched: %q", conf)
	}
}

func TestTarget_LoopWithoutBackingPath(t *testing.T) {
	h := newLabHost(t)
	tg := NewTarget(h, sysv(t, h), TargetConfig{Device: "/dev/loop3", ID: "id01"})
	err := tg.Deploy()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(h.Calls()) != 0 {
		t.Fatalf("no commands expected, got %v", callLines(h.FakeHost))
	}
}

func TestTarget_LoopCreationFailure(t *testing.T) {
	h := newLabHost(t)
	h.ignoreBind = true
	err := loopTarget(t, h).Deploy()
	var lcErr *LoopCreationError
	if !errors.As(err, &lcErr) {
		t.Fatalf("expected LoopCreationError, got %v", err)
	}
	if lcErr.Loop != "/dev/loop0" || lcErr.Path != "/tmp/id01-iscsi.loop" {
		t.Fatalf("unexpected fields: %+v", lcErr)
	}
}

func TestTarget_VerificationFailure(t *testing.T) {
	h := newLabHost(t)
	h.Handle("cat", func(args []string, _ string) (string, error) {
		return "tid:1 name:iqn.2015-01.qa.cloud.suse.de:other\n", nil
	})
	err := loopTarget(t, h).Deploy()
	var vErr *DeploymentVerificationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected DeploymentVerificationError, got %v", err)
	}
	if vErr.IQN != "iqn.2015-01.qa.cloud.suse.de:id01" {
		t.Fatalf("IQN = %s", vErr.IQN)
	}
	if !strings.Contains(err.Error(), "verify export") {
		t.Fatalf("step not named in error: %v", err)
	}
}

func TestTarget_BlockDeviceSkipsLoopSetup(t *testing.T) {
	h := newLabHost(t)
	tg := NewTarget(h, sysv(t, h), TargetConfig{Device: "/dev/sdb", ID: "id07", Chap: Credentials{Username: "lab", Password: "s3cret"}})
	if err := tg.Deploy(); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if h.Ran("losetup") || h.Ran("dd") {
		t.Fatalf("loop commands for a block device: %v", callLines(h.FakeHost))
	}
	boot, _ := h.File(DefaultBootScript)
	if boot != "#! /bin/sh\nrciscsitarget restart\n" {
		t.Fatalf("boot.local = %q", boot)
	}
	conf, _ := h.File(DefaultTargetConfig)
	if !strings.Contains(conf, "IncomingUser lab s3cret\n") || !strings.Contains(conf, "\tLun 0 Path=/dev/sdb\n") {
		t.Fatalf("ietd.conf = %q", conf)
	}
}

func TestTarget_SystemdBootLine(t *testing.T) {
	h := newLabHost(t)
	sm, err := NewServiceManager(Systemd, h)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewTarget(h, sm, TargetConfig{Device: "/dev/sdb"}).Deploy(); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if !h.Ran("systemctl enable iscsitarget") || !h.Ran("systemctl restart iscsitarget") {
		t.Fatalf("systemctl not used: %v", callLines(h.FakeHost))
	}
	boot, _ := h.File(DefaultBootScript)
	if !strings.HasSuffix(boot, "systemctl restart iscsitarget\n") {
		t.Fatalf("boot.local = %q", boot)
	}
}

func TestTarget_CustomIQNPrefix(t *testing.T) {
	h := newLabHost(t)
	tg := NewTarget(h, sysv(t, h), TargetConfig{Device: "/dev/sdb", ID: "vol9", IQNPrefix: "iqn.2026-10.lab.example"})
	if tg.IQN() != "iqn.2026-10.lab.example:vol9" {
		t.Fatalf("IQN = %s", tg.IQN())
	}
	if err := tg.Deploy(); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
}
