// Package main is the entry point for the sugarctl binary. It validates
// configuration, runs a demonstration service wired through the full stack,
// and reports build information.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/abaveja313/httpsugar/pkg/app"
	"github.com/abaveja313/httpsugar/pkg/policy"
	"github.com/abaveja313/httpsugar/pkg/settings"
	"github.com/abaveja313/httpsugar/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sugarctl",
		Short: "Operational tooling for httpsugar services",
		Long: `sugarctl validates layered configuration, serves a demonstration
application through the full middleware stack, and prints build information.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	var files []string
	var prefix string
	var required []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load settings files and report resolved keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := settings.Load(settings.Options{Prefix: prefix, Files: files})
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}

			keys := loaded.Keys()
			sort.Strings(keys)
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %d keys (prefix %s):\n", len(keys), loaded.Prefix())
			for _, key := range keys {
				value, _ := loaded.Get(key)
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %v\n", key, value)
			}

			var missing int
			for _, key := range required {
				if _, err := loaded.Require(key); err != nil {
					missing++
					fmt.Fprintf(cmd.OutOrStdout(), "\n%v\n", err)
				}
			}
			if missing > 0 {
				return fmt.Errorf("%d required key(s) missing", missing)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "config", "c", nil, "Settings files in override order")
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Environment variable prefix")
	cmd.Flags().StringSliceVarP(&required, "require", "r", nil, "Keys that must resolve")
	return cmd
}

func newServeCmd() *cobra.Command {
	var files []string
	var name string
	var policyDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demonstration service through the full stack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := settings.Load(settings.Options{Files: files})
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}

			opts := []app.Option{
				demoRoutes(),
				app.WithSettings(loaded),
				app.WithDescription("httpsugar demonstration service"),
			}

			if policyDir != "" {
				engine, err := loadPolicyEngine(cmd, policyDir)
				if err != nil {
					return err
				}
				opts = append(opts, app.WithPolicyGuard(engine, ""))
			}

			a, err := app.New(name, opts...)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "config", "c", nil, "Settings files in override order")
	cmd.Flags().StringVarP(&name, "name", "n", "sugar-demo", "Service name")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "Directory of Rego modules guarding all routes")
	return cmd
}

// demoRoutes registers a trivial echo route so serve has something to hit.
func demoRoutes() app.Option {
	return app.WithRouter(func(r chi.Router) {
		r.Get("/echo", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"method": req.Method,
				"path":   req.URL.Path,
			})
		})
	})
}

func loadPolicyEngine(cmd *cobra.Command, dir string) (*policy.Engine, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("scan policy dir: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .rego modules found in %s", dir)
	}

	modules := make(map[string]string, len(paths))
	for _, path := range paths {
		//nolint:gosec // operator-supplied policy paths
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy module %s: %w", path, err)
		}
		modules[filepath.Base(path)] = string(data)
	}
	return policy.NewEngine(cmd.Context(), policy.Options{Modules: modules})
}

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}
