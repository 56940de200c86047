// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjgordon/labportal/internal/control"
	"github.com/zjgordon/labportal/internal/model"
)

func newHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Manage registered hosts",
	}

	var address string
	add := &cobra.Command{
		Use:     "add <name>",
		Short:   "Register a host and print its agent token",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				created, err := d.CreateHost(cmd.Context(), control.CreateHostRequest{Name: args[0], Address: address})
				if err != nil {
					return err
				}
				printToken(cmd, created)
				return nil
			})
		},
	}
	add.Flags().StringVar(&address, "address", "", "Network address of the host")

	var asJSON bool
	list := &cobra.Command{
		Use:     "list",
		Short:   "List hosts with their liveness",
		Args:    cobra.NoArgs,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				hosts, err := d.ListHosts(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), hosts)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(hostHeaders, hostRows(hosts)))
				return nil
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	rotate := &cobra.Command{
		Use:     "rotate-token <host-id>",
		Short:   "Issue a new agent token; the old one stops working immediately",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				rotated, err := d.RotateHostToken(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printToken(cmd, rotated)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:     "delete <host-id>",
		Short:   "Delete a host with no services or actions",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				if err := d.DeleteHost(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted host %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, rotate, del)
	return cmd
}

func printToken(cmd *cobra.Command, h control.HostWithToken) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Host"), h.Host.String())
	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Agent token (shown once):"), h.AgentToken)
	fmt.Fprintf(out, "\nOn the host:\n  LABPORTAL_HOST_ID=%s\n  LABPORTAL_AGENT_TOKEN=%s\n", h.ID, h.AgentToken)
}

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd units a host exposes",
	}

	var req control.CreateServiceRequest
	add := &cobra.Command{
		Use:     "add <host-id> <unit>",
		Short:   "Register a managed service",
		Args:    cobra.ExactArgs(2),
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.HostID, req.UnitName = args[0], args[1]
			return withDispatcher(func(d *control.Dispatcher) error {
				svc, err := d.CreateService(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(serviceHeaders, serviceRows([]model.ManagedService{svc})))
				return nil
			})
		},
	}
	add.Flags().StringVar(&req.DisplayName, "name", "", "Display name")
	add.Flags().StringVar(&req.CardID, "card", "", "Dashboard card id")
	add.Flags().BoolVar(&req.AllowStart, "allow-start", false, "Permit start")
	add.Flags().BoolVar(&req.AllowStop, "allow-stop", false, "Permit stop")
	add.Flags().BoolVar(&req.AllowRestart, "allow-restart", false, "Permit restart")

	var hostID string
	var asJSON bool
	list := &cobra.Command{
		Use:     "list",
		Short:   "List managed services",
		Args:    cobra.NoArgs,
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				svcs, err := d.ListServices(cmd.Context(), hostID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), svcs)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(serviceHeaders, serviceRows(svcs)))
				return nil
			})
		},
	}
	list.Flags().StringVar(&hostID, "host", "", "Only services of this host")
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	del := &cobra.Command{
		Use:     "delete <service-id>",
		Short:   "Delete a service and its finished actions",
		Args:    cobra.ExactArgs(1),
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDispatcher(func(d *control.Dispatcher) error {
				if err := d.DeleteService(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted service %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}
