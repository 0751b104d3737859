package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/beacon/pkg/core"
)

func newServiceCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the service registry",
	}
	cmd.AddCommand(
		newServiceRegisterCmd(g),
		newServiceHeartbeatCmd(g),
		newServiceListCmd(g),
		newServiceReapCmd(g),
		newServiceURLCmd(g),
	)
	return cmd
}

func newServiceRegisterCmd(g *globals) *cobra.Command {
	var (
		rec      core.ServiceRecord
		template string
	)
	cmd := &cobra.Command{
		Use:   "register [name] [key=value...]",
		Short: "Register or replace a service record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			rec.Name = args[0]
			rec.Metadata = meta

			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			if template != "" {
				reg, err := sys.RegisterWithConfig(cmd.Context(), rec, template)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), reg)
			}
			stored, err := sys.Registry.Register(cmd.Context(), rec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stored)
		},
	}
	cmd.Flags().StringVar(&rec.Host, "host", "localhost", "Service host")
	cmd.Flags().IntVar(&rec.Port, "port", 0, "Service port")
	cmd.Flags().StringVarP(&rec.ServiceType, "type", "t", "", "Service type, e.g. api or worker")
	cmd.Flags().StringVar(&rec.Version, "version", "", "Service version (default 1.0)")
	cmd.Flags().StringVar(&rec.HealthEndpoint, "health", "", "Health endpoint path")
	cmd.Flags().StringVar(&template, "template", "", "Seed service_<name> from template_<template>")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newServiceHeartbeatCmd(g *globals) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "heartbeat [name] [key=value...]",
		Short: "Refresh a service heartbeat, optionally patching metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			name := args[0]
			ok, err := sys.Registry.Heartbeat(cmd.Context(), name, patch)
			if err != nil {
				return err
			}
			if ok && status != "" {
				ok, err = sys.Registry.UpdateStatus(cmd.Context(), name, core.Status(status))
				if err != nil {
					return err
				}
			}
			if !ok {
				return fmt.Errorf("service %q: %w", name, core.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "heartbeat recorded for %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Also set the status (active, inactive, maintenance, error)")
	return cmd
}

func newServiceListCmd(g *globals) *cobra.Command {
	var (
		serviceType string
		active      bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			var records []core.ServiceRecord
			switch {
			case active:
				records, err = sys.Registry.Active(cmd.Context())
				if err != nil {
					return err
				}
			case serviceType != "":
				records = sys.Registry.ByType(serviceType)
			default:
				records = sys.Registry.All()
			}
			if active && serviceType != "" {
				filtered := records[:0]
				for _, r := range records {
					if r.ServiceType == serviceType {
						filtered = append(filtered, r)
					}
				}
				records = filtered
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), records)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tSTATUS\tADDRESS\tLAST HEARTBEAT")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%d\t%s\n",
					r.Name, r.ServiceType, r.Status, r.Host, r.Port, r.LastHeartbeat.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&serviceType, "type", "t", "", "Only services of this type")
	cmd.Flags().BoolVar(&active, "active", false, "Reap stale services and list active ones only")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newServiceReapCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Remove services whose heartbeat is older than the TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			n, err := sys.Registry.ReapStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale service(s)\n", n)
			return nil
		},
	}
}

func newServiceURLCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "url [name] [endpoint]",
		Short: "Print the URL of a service",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			endpoint := ""
			if len(args) == 2 {
				endpoint = args[1]
			}
			url, err := sys.Registry.BuildURL(args[0], endpoint)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}
