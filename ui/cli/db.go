// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/security"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}

	var timeout time.Duration
	maintain := &cobra.Command{
		Use:     "maintain",
		Short:   "Run database maintenance (VACUUM/OPTIMIZE) for the configured DB",
		Long:    `Runs engine-specific maintenance tasks (VACUUM, ANALYZE, OPTIMIZE TABLE, PRAGMA optimize).`,
		Args:    cobra.NoArgs,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := db.RunDBMaintenance(ctx, appConfig.Database.Type, appConfig.Database.Dsn); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("maintenance timed out after %s", timeout)
				}
				return fmt.Errorf("maintenance failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Maintenance completed successfully")
			return nil
		},
	}
	maintain.Flags().DurationVar(&timeout, "timeout", 0, "Abort maintenance after this long (0 means no timeout)")

	migrate := &cobra.Command{
		Use:     "migrate",
		Short:   "Apply pending schema migrations",
		Args:    cobra.NoArgs,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			versions, err := store.AppliedMigrations(cmd.Context())
			if err != nil {
				return fmt.Errorf("read applied migrations: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Schema of %s database is up to date\n", appConfig.Database.Type)
			for _, v := range versions {
				fmt.Fprintf(out, "  applied %s\n", v)
			}
			return nil
		},
	}

	cmd.AddCommand(maintain, migrate)
	return cmd
}

func newHashAdminTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-admin-token",
		Short: "Hash an admin credential for auth.admin_token_hash",
		Long: `Reads the admin credential from the terminal (or stdin when piped) and
prints the bcrypt hash to put into auth.admin_token_hash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer secret.Zero()
			if secret.Empty() {
				return errors.New("admin credential must not be empty")
			}
			if security.IsAgentToken(secret.Reveal()) {
				return fmt.Errorf("admin credential must not start with %q", security.AgentTokenPrefix)
			}
			hash, err := security.HashAdminCredential(secret.Reveal())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readSecret prompts without echo when in is a terminal and otherwise reads
// one line.
func readSecret(in io.Reader, prompt io.Writer) (security.Secret, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Admin credential: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return nil, err
		}
		return security.Secret(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return security.FromString(strings.TrimRight(line, "\r\n")), nil
}
