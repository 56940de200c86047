// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjgordon/labportal/internal/agent"
	"github.com/zjgordon/labportal/internal/logging"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the host agent",
		Long: `Polls the portal for queued actions and runs them with systemctl.
Reads LABPORTAL_HOST_ID, LABPORTAL_URL, LABPORTAL_AGENT_TOKEN and the optional
LABPORTAL_POLL_INTERVAL (Go duration or seconds, default 10s).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				if err := logging.SetLevel("debug"); err != nil {
					return err
				}
			}
			return RunAgent(cmd)
		},
	}
	cmd.Flags().String("host-id", "", "Host id (overrides LABPORTAL_HOST_ID)")
	cmd.Flags().String("url", "", "Portal base URL (overrides LABPORTAL_URL)")
	cmd.Flags().String("poll-interval", "", "Poll interval (overrides LABPORTAL_POLL_INTERVAL)")
	return cmd
}

// RunAgent loads the agent configuration and runs the poll loop until the
// process is interrupted. It is shared with the standalone agent binary.
func RunAgent(cmd *cobra.Command) error {
	cfg, err := agent.LoadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := agent.NewClient(cfg.URL, cfg.Token, nil)
	a := agent.New(cfg, client, agent.NewExecutor(nil))
	return a.Run(ctx)
}

// NewAgentRootCmd is the root command of the standalone agent binary.
func NewAgentRootCmd() *cobra.Command {
	cmd := newAgentCmd()
	cmd.Use = "labportal-agent"
	cmd.Version = compositeVersion()
	cmd.SilenceUsage = true
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}
