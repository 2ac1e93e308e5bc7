// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads iscsictl settings from defaults, iscsictl.yaml,
// ISCSICTL_* environment variables and command line flags, in increasing
// order of precedence.
package config // import "github.com/toeirei/iscsictl/internal/config"

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	appName    = "iscsictl"
	envPrefix  = "iscsictl"
	legacyFile = ".iscsictl.yaml"
)

// Config is the full set of settings.
type Config struct {
	Remote    Remote    `mapstructure:"remote" yaml:"remote"`
	Chap      Chap      `mapstructure:"chap" yaml:"chap"`
	Target    Target    `mapstructure:"target" yaml:"target"`
	Initiator Initiator `mapstructure:"initiator" yaml:"initiator"`
	Services  Services  `mapstructure:"services" yaml:"services"`
	Database  Database  `mapstructure:"database" yaml:"database"`
	Language  string    `mapstructure:"language" yaml:"language"`
}

// Remote holds SSH settings shared by every host.
type Remote struct {
	User         string        `mapstructure:"user" yaml:"user"`
	Password     string        `mapstructure:"password" yaml:"password"`
	Port         int           `mapstructure:"port" yaml:"port"`
	KeyDir       string        `mapstructure:"key_dir" yaml:"key_dir"`
	UseAgent     bool          `mapstructure:"use_agent" yaml:"use_agent"`
	KnownHosts   string        `mapstructure:"known_hosts" yaml:"known_hosts"`
	PromptSuffix string        `mapstructure:"prompt_suffix" yaml:"prompt_suffix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// Chap is the CHAP account used by targets and initiators.
type Chap struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Target holds target side settings.
type Target struct {
	Device      string `mapstructure:"device" yaml:"device"`
	ID          string `mapstructure:"id" yaml:"id"`
	SizeMB      int    `mapstructure:"size_mb" yaml:"size_mb"`
	BackingDir  string `mapstructure:"backing_dir" yaml:"backing_dir"`
	Package     string `mapstructure:"package" yaml:"package"`
	Service     string `mapstructure:"service" yaml:"service"`
	ConfigPath  string `mapstructure:"config_path" yaml:"config_path"`
	BootScript  string `mapstructure:"boot_script" yaml:"boot_script"`
	VolumeTable string `mapstructure:"volume_table" yaml:"volume_table"`
	IQNPrefix   string `mapstructure:"iqn_prefix" yaml:"iqn_prefix"`
}

// Initiator holds initiator side settings.
type Initiator struct {
	Package    string `mapstructure:"package" yaml:"package"`
	Service    string `mapstructure:"service" yaml:"service"`
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
}

// Services selects the service manager on the hosts.
type Services struct {
	Manager string `mapstructure:"manager" yaml:"manager"`
}

// Database selects the journal backend.
type Database struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// Defaults returns the default value for every known key.
func Defaults() map[string]any {
	dsn := appName + ".db"
	if p, err := GetConfigPath(false); err == nil {
		dsn = filepath.Join(filepath.Dir(p), "history.db")
	}
	return map[string]any{
		"remote.user":           "root",
		"remote.password":       "linux",
		"remote.port":           22,
		"remote.key_dir":        "",
		"remote.use_agent":      false,
		"remote.known_hosts":    "",
		"remote.prompt_suffix":  "Password: ",
		"remote.dial_timeout":   "10s",
		"chap.username":         "user",
		"chap.password":         "passwd",
		"target.device":         "/dev/loop0",
		"target.id":             "id01",
		"target.size_mb":        1,
		"target.backing_dir":    "/tmp",
		"target.package":        "iscsitarget",
		"target.service":        "iscsitarget",
		"target.config_path":    "/etc/ietd.conf",
		"target.boot_script":    "/etc/rc.d/boot.local",
		"target.volume_table":   "/proc/net/iet/volume",
		"target.iqn_prefix":     "iqn.2015-01.qa.cloud.suse.de",
		"initiator.package":     "open-iscsi",
		"initiator.service":     "open-iscsi",
		"initiator.config_path": "/etc/iscsid.conf",
		"services.manager":      "sysv",
		"database.type":         "sqlite",
		"database.dsn":          dsn,
		"language":              "en",
	}
}

// GetConfigPath returns the user or system iscsictl.yaml path.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), appName)
		default:
			configDir = "/etc/" + appName
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, appName)
	}
	return filepath.Join(configDir, appName+".yaml"), nil
}

// LoadConfig builds a T from defaults, the first iscsictl.yaml found (or
// configFile when given), ISCSICTL_* variables and the flags of cmd. Flags
// are bound by name; aliases binds a flag to a different key, for example
// "user" to "remote.user".
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string, aliases map[string]string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := mergeLegacyConfig(v); err != nil {
		return c, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
		for flag, key := range aliases {
			if f := cmd.Flags().Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, err
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// mergeLegacyConfig merges a .iscsictl.yaml from the working directory on
// top of whatever was read before.
func mergeLegacyConfig(v *viper.Viper) error {
	if _, err := os.Stat(legacyFile); err != nil {
		return nil
	}
	v.SetConfigFile(legacyFile)
	defer v.SetConfigFile("")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to merge %s: %w", legacyFile, err)
	}
	return nil
}

// WriteConfigFile writes c as YAML to the user or system config path and
// returns that path. The file may hold passwords, so it is created 0600.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
