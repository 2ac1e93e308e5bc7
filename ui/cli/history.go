// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toeirei/iscsictl/internal/db"
	"github.com/toeirei/iscsictl/internal/i18n"
	"github.com/toeirei/iscsictl/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("9"))
)

// renderHistory draws records as a table, newest first.
func renderHistory(records []model.Deployment) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "ROLE", "HOST", "IQN", "STATUS", "STARTED", "TOOK")
	for _, d := range records {
		took := "-"
		if d.FinishedAt != nil {
			took = d.Duration().Round(time.Millisecond).String()
		}
		id := d.ID
		if len(id) > 8 {
			id = id[:8]
		}
		t.Row(id, string(d.Role), d.Host, d.IQN, string(d.Status), humanize.Time(d.StartedAt), took)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if row >= 0 && row < len(records) && records[row].Status == model.StatusFailed {
			return failedStyle
		}
		return cellStyle
	})
	return t.String()
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: i18n.T("cli.history.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			records, err := j.List(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.history_empty"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(records))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show (0 for all)")

	export := &cobra.Command{
		Use:   "export <file>",
		Short: i18n.T("cli.history_export.short"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			n, err := j.Export(f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.history_exported", n, args[0]))
			return nil
		},
	}

	imp := &cobra.Command{
		Use:   "import <file>",
		Short: i18n.T("cli.history_import.short"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			doc, err := db.ReadExport(f)
			if err != nil {
				return err
			}
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			imported, skipped, err := j.Import(doc.Deployments)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("msg.history_imported", imported, skipped))
			return nil
		},
	}

	cmd.AddCommand(export, imp)
	return cmd
}
