// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/pruner"
)

func newActionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Queue and inspect service actions",
	}

	var idempotencyKey string
	enqueue := &cobra.Command{
		Use:     "enqueue <service-id> <start|stop|restart|status>",
		Short:   "Queue an action for the service's host",
		Args:    cobra.ExactArgs(2),
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				svc, err := d.GetService(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a, err := d.Enqueue(cmd.Context(), control.EnqueueRequest{
					HostID:         svc.HostID,
					ServiceID:      svc.ID,
					Kind:           model.ActionKind(args[1]),
					RequestedBy:    cliPrincipal(),
					IdempotencyKey: idempotencyKey,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s %s as %s\n", a.Kind, a.UnitName, a.ID)
				return nil
			})
		},
	}
	enqueue.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Return the existing action if this key was used before")

	var filter db.ActionFilter
	var status string
	var asJSON bool
	list := &cobra.Command{
		Use:     "list",
		Short:   "List actions, newest first",
		Args:    cobra.NoArgs,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, ok := model.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = st
			}
			return withDispatcher(func(d *control.Dispatcher) error {
				actions, err := d.ListActions(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), actions)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(actionHeaders, actionRows(actions)))
				return nil
			})
		},
	}
	list.Flags().StringVar(&filter.HostID, "host", "", "Only actions of this host")
	list.Flags().StringVar(&filter.ServiceID, "service", "", "Only actions of this service")
	list.Flags().StringVar(&status, "status", "", "Only actions in this status")
	list.Flags().IntVar(&filter.Limit, "limit", db.DefaultListLimit, "Maximum number of actions")
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	cmd.AddCommand(enqueue, list)
	return cmd
}

// cliPrincipal names the operator in requestedBy for actions queued from
// the command line.
func cliPrincipal() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

func newPruneCmd() *cobra.Command {
	var opts pruner.Options
	var archivePath string
	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete finished actions older than the retention window",
		Args:    cobra.NoArgs,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("retention-days") {
				opts.RetentionDays = appConfig.Pruner.RetentionDays
			}
			if !cmd.Flags().Changed("batch-size") {
				opts.BatchSize = appConfig.Pruner.BatchSize
			}
			if archivePath != "" && !opts.DryRun {
				f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
				if err != nil {
					return fmt.Errorf("create archive: %w", err)
				}
				defer func() { _ = f.Close() }()
				opts.Archive = f
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			res, err := pruner.New(store).Prune(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			verb := "Deleted"
			if res.DryRun {
				verb = "Would delete"
			}
			fmt.Fprintf(out, "%s %d of %d actions finished before %s (%d total)\n",
				verb, pick(res.DryRun, res.ActionsToDelete, res.ActionsDeleted), res.ActionsToDelete, res.Cutoff.Format("2006-01-02"), res.TotalActions)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d prune batches failed", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.RetentionDays, "retention-days", pruner.DefaultRetentionDays, "Keep actions newer than this many days")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", pruner.DefaultBatchSize, "Rows deleted per batch")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Count without deleting")
	cmd.Flags().StringVar(&archivePath, "archive", "", "Write deleted rows as zstd-compressed JSON lines to this new file")
	return cmd
}

func pick(cond bool, a, b int) int {
	if cond {
		return a
	}
	return b
}

func newDiagCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "diag",
		Short:   "Show queue counts, host liveness and recent failures",
		Args:    cobra.NoArgs,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				diag, err := d.Diagnostics(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), diag)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderDiagnostics(diag))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
