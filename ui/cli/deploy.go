// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/toeirei/iscsictl/internal/i18n"
	"github.com/toeirei/iscsictl/internal/iscsi"
	"github.com/toeirei/iscsictl/internal/logging"
	"github.com/toeirei/iscsictl/internal/model"
	"github.com/toeirei/iscsictl/internal/remote"
)

// hostSession is a host reached over a session that must be closed.
type hostSession interface {
	iscsi.Host
	Close() error
}

// openHost connects to one host. Tests replace it with an in-memory host.
var openHost = func(cfg remote.Config) (hostSession, error) {
	return remote.NewSession(cfg)
}

func (a *app) remoteConfig(host string) remote.Config {
	r := a.cfg.Remote
	return remote.Config{
		Host:           host,
		Port:           r.Port,
		User:           r.User,
		Password:       r.Password,
		KeyDir:         r.KeyDir,
		UseAgent:       r.UseAgent,
		KnownHostsFile: r.KnownHosts,
		PromptSuffix:   r.PromptSuffix,
		DialTimeout:    r.DialTimeout,
	}
}

// withHost opens a session to host, runs fn and closes the session. A
// failed cleanup is logged and does not replace fn's result.
func (a *app) withHost(host string, fn func(iscsi.Host, iscsi.ServiceManager) error) error {
	h, err := openHost(a.remoteConfig(host))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			logging.Warnf("cleanup on %s incomplete: %v", host, cerr)
		}
	}()
	services, err := iscsi.NewServiceManager(a.cfg.Services.Manager, h)
	if err != nil {
		return err
	}
	return fn(h, services)
}

// record journals one run. run returns the IQN it ended up using, if it
// only becomes known while running. Journal failures are logged and never
// fail the run.
func (a *app) record(role model.Role, host, iqn, device string, run func() (string, error)) error {
	j, err := a.openJournal()
	if err != nil {
		logging.Warnf("journal unavailable: %v", err)
	}
	var rec model.Deployment
	if j != nil {
		if rec, err = j.Begin(role, host, iqn, device); err != nil {
			logging.Warnf("journal: %v", err)
			j = nil
		}
	}

	resolved, runErr := run()

	if j != nil {
		if _, err := j.Finish(rec, resolved, runErr); err != nil {
			logging.Warnf("journal: %v", err)
		}
	}
	return runErr
}

func (a *app) targetConfig(backingPath string) iscsi.TargetConfig {
	t := a.cfg.Target
	if backingPath == "" && iscsi.IsLoopDevice(t.Device) {
		backingPath = path.Join(t.BackingDir, t.ID+"-iscsi.loop")
	}
	return iscsi.TargetConfig{
		Device:      t.Device,
		BackingPath: backingPath,
		ID:          t.ID,
		SizeMB:      t.SizeMB,
		Chap:        a.credentials(),
		Package:     t.Package,
		Service:     t.Service,
		ConfigPath:  t.ConfigPath,
		BootScript:  t.BootScript,
		VolumeTable: t.VolumeTable,
		IQNPrefix:   t.IQNPrefix,
	}
}

func (a *app) initiatorConfig(targetHost string) iscsi.InitiatorConfig {
	i := a.cfg.Initiator
	return iscsi.InitiatorConfig{
		TargetHost: targetHost,
		ID:         a.cfg.Target.ID,
		Chap:       a.credentials(),
		Package:    i.Package,
		Service:    i.Service,
		ConfigPath: i.ConfigPath,
	}
}

func (a *app) credentials() iscsi.Credentials {
	return iscsi.Credentials{Username: a.cfg.Chap.Username, Password: a.cfg.Chap.Password}
}

// deployTarget exports the configured device on host and returns its IQN.
func (a *app) deployTarget(host, backingPath string) (string, error) {
	tcfg := a.targetConfig(backingPath)
	iqn := iscsi.IQN(tcfg.IQNPrefix, tcfg.ID)
	err := a.record(model.RoleTarget, host, iqn, tcfg.Device, func() (string, error) {
		return "", a.withHost(host, func(h iscsi.Host, svc iscsi.ServiceManager) error {
			return iscsi.NewTarget(h, svc, tcfg).Deploy()
		})
	})
	return iqn, err
}

// deployInitiator logs host in to the target on targetHost and returns the
// target name it found. When verifyDevice is set, lsscsi must list it
// afterwards.
func (a *app) deployInitiator(host, targetHost, verifyDevice string) (string, error) {
	icfg := a.initiatorConfig(targetHost)
	var name string
	err := a.record(model.RoleInitiator, host, "", verifyDevice, func() (string, error) {
		err := a.withHost(host, func(h iscsi.Host, svc iscsi.ServiceManager) error {
			ini := iscsi.NewInitiator(h, svc, icfg)
			err := ini.Deploy()
			name = ini.Name()
			if err != nil {
				return err
			}
			if verifyDevice != "" {
				return iscsi.VerifyDevice(h, verifyDevice)
			}
			return nil
		})
		return name, err
	})
	return name, err
}

func newTargetCmd(a *app) *cobra.Command {
	var host, backingPath string
	cmd := &cobra.Command{
		Use:   "target",
		Short: i18n.T("cli.target.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			iqn, err := a.deployTarget(host, backingPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.target_deployed", iqn, host))
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "host to export the device from")
	cmd.Flags().String("device", "", "block device to export (default /dev/loop0)")
	cmd.Flags().Int("size", 0, "loop device size in MiB (default 1)")
	cmd.Flags().String("id", "", "target id appended to the IQN (default id01)")
	cmd.Flags().StringVar(&backingPath, "path", "", "backing file for a loop device")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newInitiatorCmd(a *app) *cobra.Command {
	var host, targetHost string
	cmd := &cobra.Command{
		Use:   "initiator",
		Short: i18n.T("cli.initiator.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			name, err := a.deployInitiator(host, targetHost, "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.initiator_logged_in", host, name))
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "host to configure as initiator")
	cmd.Flags().StringVar(&targetHost, "target-host", "", "host exporting the target")
	cmd.Flags().String("id", "", "target id to look for (default id01)")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("target-host")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	var host, targetHost string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: i18n.T("cli.logout.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			icfg := a.initiatorConfig(targetHost)
			var name string
			err := a.record(model.RoleLogout, host, "", "", func() (string, error) {
				err := a.withHost(host, func(h iscsi.Host, svc iscsi.ServiceManager) error {
					ini := iscsi.NewInitiator(h, svc, icfg)
					var err error
					if name, err = ini.Attach(); err != nil {
						return err
					}
					return ini.Logout()
				})
				return name, err
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.logged_out", name, host))
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "initiator host")
	cmd.Flags().StringVar(&targetHost, "target-host", "", "host exporting the target")
	cmd.Flags().String("id", "", "target id to look for (default id01)")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("target-host")
	return cmd
}

func newLoopCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: i18n.T("cli.loop.short"),
	}
	var host string
	destroy := &cobra.Command{
		Use:   "destroy",
		Short: i18n.T("cli.loop_destroy.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			device := a.cfg.Target.Device
			if !iscsi.IsLoopDevice(device) {
				return &iscsi.ConfigurationError{Reason: device + " is not a loop device"}
			}
			err := a.record(model.RoleLoop, host, "", device, func() (string, error) {
				return "", a.withHost(host, func(h iscsi.Host, _ iscsi.ServiceManager) error {
					return iscsi.NewLoopManager(h).Destroy(device)
				})
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.loop_destroyed", device, host))
			return nil
		},
	}
	destroy.Flags().StringVar(&host, "host", "", "host owning the loop device")
	destroy.Flags().String("device", "", "loop device to release (default /dev/loop0)")
	_ = destroy.MarkFlagRequired("host")
	cmd.AddCommand(destroy)
	return cmd
}
