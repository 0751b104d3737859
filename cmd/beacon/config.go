package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/beacon"
	"github.com/aretw0/beacon/pkg/core"
	"github.com/aretw0/beacon/pkg/notify"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write configuration documents",
	}
	cmd.AddCommand(
		newConfigGetCmd(g),
		newConfigSetCmd(g),
		newConfigListCmd(g),
		newConfigDeleteCmd(g),
		newConfigMergeCmd(g),
		newConfigTemplateCmd(g),
		newConfigWatchCmd(g),
	)
	return cmd
}

func newConfigGetCmd(g *globals) *cobra.Command {
	var withMeta bool
	cmd := &cobra.Command{
		Use:   "get [name]",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			body, err := sys.LoadConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !withMeta {
				body = body.WithoutMeta()
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().BoolVar(&withMeta, "meta", false, "Include the _metadata block")
	return cmd
}

func newConfigSetCmd(g *globals) *cobra.Command {
	var (
		file     string
		format   string
		replace  bool
		noBackup bool
	)
	cmd := &cobra.Command{
		Use:   "set [name] [key=value...]",
		Short: "Update a document, or replace it with --replace or --file",
		Long: `Without --replace the assignments are merged into the stored document
(a backup of the previous version is kept unless --no-backup). With --replace
or --file the document is rewritten from scratch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			f, err := core.ParseFormat(format)
			if err != nil {
				return err
			}

			body := core.Body{}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				// YAML is a superset of JSON, so one decoder reads both.
				if err := yaml.Unmarshal(data, &body); err != nil {
					return fmt.Errorf("failed to parse %s: %w", file, err)
				}
				replace = true
			}
			for k, v := range values {
				body[k] = v
			}

			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			var loc string
			if replace {
				loc, err = sys.SaveConfig(cmd.Context(), name, body, f)
			} else {
				loc, err = sys.UpdateConfig(cmd.Context(), name, body, !noBackup)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), loc)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the document from a JSON or YAML file")
	cmd.Flags().StringVar(&format, "format", "", "Encoding for new documents (json or yaml)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Replace the document instead of merging")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Do not keep a backup of the previous version")
	return cmd
}

func newConfigListCmd(g *globals) *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List document names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			var names []string
			if pattern != "" {
				names, err = sys.Store.Match(cmd.Context(), pattern)
			} else {
				names, err = sys.ListConfigs(cmd.Context())
			}
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "Glob filter, e.g. 'service_*'")
	return cmd
}

func newConfigDeleteCmd(g *globals) *cobra.Command {
	var noBackup bool
	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a document, keeping a backup by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			removed, err := sys.DeleteConfig(cmd.Context(), args[0], !noBackup)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("config %q: %w", args[0], core.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Do not keep a backup")
	return cmd
}

func newConfigMergeCmd(g *globals) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "merge [output] [input...]",
		Short: "Merge documents into a new one",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := core.ParseMergeStrategy(strategy)
			if err != nil {
				return err
			}
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			res, err := sys.Store.Merge(cmd.Context(), args[1:], args[0], s)
			if err != nil {
				return err
			}
			if len(res.Skipped) > 0 {
				g.logger.Warn("skipped missing inputs", "names", res.Skipped)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Location)
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "override", "override, deep_merge or append")
	return cmd
}

// parseField reads name[:type][=default].
func parseField(arg string) (core.FieldSpec, error) {
	head, def, hasDefault := strings.Cut(arg, "=")
	name, typ, _ := strings.Cut(head, ":")
	field := core.FieldSpec{Name: name, Type: typ}
	if hasDefault {
		values, err := parseAssignments([]string{"v=" + def})
		if err != nil {
			return field, err
		}
		field.Default = values["v"]
	}
	return field, nil
}

func newConfigTemplateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "template [name] [field[:type][=default]...]",
		Short:   "Create template_<name> from field specs",
		Example: `  beacon config template api host:string port:integer=8080 debug:boolean tags:array`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := make([]core.FieldSpec, 0, len(args)-1)
			for _, arg := range args[1:] {
				f, err := parseField(arg)
				if err != nil {
					return err
				}
				fields = append(fields, f)
			}

			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			loc, err := sys.Store.Template(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), loc)
			return nil
		},
	}
}

func newConfigWatchCmd(g *globals) *cobra.Command {
	var (
		interval  time.Duration
		useNotify bool
	)
	cmd := &cobra.Command{
		Use:   "watch [pattern...]",
		Short: "Print changes to matching documents until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sys, err := g.open(beacon.WithPollInterval(interval, 0), beacon.WithNotify(useNotify))
			if err != nil {
				return err
			}
			defer sys.Close(context.Background())

			out := cmd.OutOrStdout()
			err = sys.Subscribe(ctx, "cli", args, func(_ context.Context, name string, body core.Body) error {
				line, err := yaml.Marshal(map[string]any{name: body.WithoutMeta()})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "--- %s\n%s", time.Now().Format(time.RFC3339), line)
				return nil
			})
			if err != nil {
				return err
			}
			state := sys.Notifier.State().(notify.ManagerState)
			if len(state.Watched) == 0 {
				g.logger.Warn("no existing document matches, nothing to watch", "patterns", args)
				return nil
			}
			g.logger.Info("watching", "documents", state.Watched)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default 2s)")
	cmd.Flags().BoolVar(&useNotify, "notify", true, "Wake on filesystem events between polls")
	return cmd
}
