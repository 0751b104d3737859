package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/beacon"
	"github.com/aretw0/beacon/internal/platform"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	dir      string
	registry string
	verbose  bool
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "beacon",
		Short: "File-backed configuration and service liveness coordination",
		Long: `beacon shares configuration documents and service heartbeats between
processes through a common directory. Every document is a JSON or YAML file;
the service registry lives in the hidden .beacon directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if g.verbose {
				level = slog.LevelDebug
			}
			g.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(g.logger)
		},
	}

	root.PersistentFlags().StringVarP(&g.dir, "dir", "d", "", "Config directory (default: nearest directory holding .beacon, else ./configs)")
	root.PersistentFlags().StringVar(&g.registry, "registry", "", "Registry file (default: <dir>/.beacon/registry.json)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newConfigCmd(g),
		newServiceCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

// resolveDir picks the config directory: the flag, then the nearest beacon
// root above the working directory, then ./configs.
func (g *globals) resolveDir() string {
	if g.dir != "" {
		return g.dir
	}
	if wd, err := os.Getwd(); err == nil {
		if root, err := platform.FindRoot(wd); err == nil {
			return root
		}
	}
	return "configs"
}

func (g *globals) open(extra ...beacon.Option) (*beacon.System, error) {
	logger := g.logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := []beacon.Option{beacon.WithLogger(logger)}
	if g.registry != "" {
		opts = append(opts, beacon.WithRegistryFile(g.registry))
	}
	return beacon.New(g.resolveDir(), append(opts, extra...)...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAssignments turns key=value arguments into a map. Values are decoded
// as YAML scalars, so "3" is an integer and "true" a boolean.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, errors.New("expected key=value, got " + arg)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}
