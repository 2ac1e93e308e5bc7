// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toeirei/iscsictl/internal/i18n"
	"github.com/toeirei/iscsictl/internal/iscsi"
	"github.com/toeirei/iscsictl/internal/model"
)

// sleep waits for rebooted hosts. Tests replace it.
var sleep = time.Sleep

// smokeOptions describes one run of the lab scenario.
type smokeOptions struct {
	admin  string
	nodes  []string
	device string
	reboot bool
	wait   time.Duration
}

// runSmoke exports a target on the admin host, logs every node in and
// checks that the device shows up, optionally again after a reboot.
func (a *app) runSmoke(cmd *cobra.Command, o smokeOptions) error {
	out := cmd.OutOrStdout()
	return a.record(model.RoleSmoke, o.admin, "", o.device, func() (string, error) {
		iqn, err := a.deployTarget(o.admin, "")
		if err != nil {
			return "", fmt.Errorf("target on %s: %w", o.admin, err)
		}
		for _, node := range o.nodes {
			fmt.Fprintln(out, i18n.T("msg.smoke_checking", o.device, node))
			if _, err := a.deployInitiator(node, o.admin, o.device); err != nil {
				return iqn, fmt.Errorf("initiator on %s: %w", node, err)
			}
		}
		if !o.reboot {
			return iqn, nil
		}

		for _, node := range o.nodes {
			err := a.withHost(node, func(h iscsi.Host, _ iscsi.ServiceManager) error {
				_, err := h.Execute("shutdown", "-r", "+1")
				return err
			})
			if err != nil {
				return iqn, fmt.Errorf("reboot %s: %w", node, err)
			}
		}
		fmt.Fprintln(out, i18n.T("msg.smoke_rebooting", o.wait))
		sleep(o.wait)
		for _, node := range o.nodes {
			fmt.Fprintln(out, i18n.T("msg.smoke_checking", o.device, node))
			err := a.withHost(node, func(h iscsi.Host, _ iscsi.ServiceManager) error {
				return iscsi.VerifyDevice(h, o.device)
			})
			if err != nil {
				return iqn, fmt.Errorf("after reboot of %s: %w", node, err)
			}
		}
		return iqn, nil
	})
}

func newSmokeCmd(a *app) *cobra.Command {
	var o smokeOptions
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: i18n.T("cli.smoke.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := a.runSmoke(cmd, o); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.smoke_ok"))
			return nil
		},
	}
	cmd.Flags().StringVar(&o.admin, "admin", "", "host that exports the target")
	cmd.Flags().StringSliceVar(&o.nodes, "node", nil, "initiator host (repeatable)")
	cmd.Flags().StringVar(&o.device, "expect-device", "/dev/sda", "device lsscsi must list on every node")
	cmd.Flags().BoolVar(&o.reboot, "reboot", false, "reboot the nodes and check again")
	cmd.Flags().DurationVar(&o.wait, "wait", 3*time.Minute, "time to wait for rebooted nodes")
	_ = cmd.MarkFlagRequired("admin")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}
