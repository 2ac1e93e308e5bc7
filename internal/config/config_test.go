// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	cfg "github.com/toeirei/iscsictl/internal/config"
)

// isolate points the user config dir and working directory at fresh temp
// dirs so no real iscsictl.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("HOME", tmp)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	work := filepath.Join(tmp, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(work); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return tmp
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)
	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Remote.User != "root" || got.Remote.Password != "linux" || got.Remote.Port != 22 {
		t.Fatalf("remote defaults = %+v", got.Remote)
	}
	if got.Remote.DialTimeout != 10*time.Second {
		t.Fatalf("dial timeout = %s", got.Remote.DialTimeout)
	}
	if got.Target.Device != "/dev/loop0" || got.Target.ID != "id01" || got.Target.SizeMB != 1 {
		t.Fatalf("target defaults = %+v", got.Target)
	}
	if got.Target.IQNPrefix != "iqn.2015-01.qa.cloud.suse.de" {
		t.Fatalf("iqn prefix = %q", got.Target.IQNPrefix)
	}
	if got.Services.Manager != "sysv" || got.Database.Type != "sqlite" {
		t.Fatalf("services/database = %+v %+v", got.Services, got.Database)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := isolate(t)
	yaml := "remote:\n  user: admin\n  dial_timeout: 3s\nservices:\n  manager: systemd\nlanguage: de\n"
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Remote.User != "admin" || got.Remote.DialTimeout != 3*time.Second {
		t.Fatalf("remote = %+v", got.Remote)
	}
	if got.Services.Manager != "systemd" || got.Language != "de" {
		t.Fatalf("got %+v", got)
	}
	if got.Remote.Password != "linux" {
		t.Fatalf("unset keys should keep defaults, password = %q", got.Remote.Password)
	}
}

func TestLoadConfig_BrokenFile(t *testing.T) {
	tmp := isolate(t)
	file := filepath.Join(tmp, "broken.yaml")
	if err := os.WriteFile(file, []byte("remote: [unclosed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	isolate(t)
	t.Setenv("ISCSICTL_REMOTE_USER", "envuser")
	t.Setenv("ISCSICTL_DATABASE_TYPE", "postgres")

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Remote.User != "envuser" || got.Database.Type != "postgres" {
		t.Fatalf("env not applied: %+v %+v", got.Remote, got.Database)
	}
}

func TestLoadConfig_FlagAliasOverridesEnv(t *testing.T) {
	isolate(t)
	t.Setenv("ISCSICTL_REMOTE_USER", "envuser")

	cmd := &cobra.Command{}
	cmd.Flags().String("user", "", "remote user")
	cmd.Flags().String("lang", "", "language")
	if err := cmd.Flags().Set("user", "flaguser"); err != nil {
		t.Fatal(err)
	}

	got, err := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil, map[string]string{"user": "remote.user", "lang": "language"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Remote.User != "flaguser" {
		t.Fatalf("flag should win, got %q", got.Remote.User)
	}
	if got.Language != "en" {
		t.Fatalf("unset flag must not override the default, got %q", got.Language)
	}
}

func TestLoadConfig_MergesLegacyDotfile(t *testing.T) {
	isolate(t)
	if err := os.WriteFile(".iscsictl.yaml", []byte("chap:\n  username: legacy\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Chap.Username != "legacy" || got.Chap.Password != "passwd" {
		t.Fatalf("chap = %+v", got.Chap)
	}
}

func TestWriteConfigFile_RoundTrip(t *testing.T) {
	isolate(t)
	c := cfg.Config{}
	c.Remote.User = "admin"
	c.Target.ID = "id09"
	c.Database.Type = "sqlite"

	path, err := cfg.WriteConfigFile(&c, false)
	if err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}
	want, _ := cfg.GetConfigPath(false)
	if path != want {
		t.Fatalf("path = %s want %s", path, want)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", fi.Mode().Perm())
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Remote.User != "admin" || got.Target.ID != "id09" {
		t.Fatalf("written config not read back: %+v", got)
	}
}

func TestGetConfigPath(t *testing.T) {
	isolate(t)
	user, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(user) != "iscsictl.yaml" || filepath.Base(filepath.Dir(user)) != "iscsictl" {
		t.Fatalf("user path = %s", user)
	}
	system, err := cfg.GetConfigPath(true)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(system) != "iscsictl.yaml" {
		t.Fatalf("system path = %s", system)
	}
}
