// Package cli wires cobra subcommands over the riptide.Engine facade,
// grounded on the docs-crawler CLI's flag layout but generalized to
// subcommands for the extract, search, crawl and render operations (plus
// serve and version) instead of a single fixed crawl run.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-org/riptide"
	"github.com/riptide-org/riptide/models"
)

var (
	configPath     string
	metricsBackend string
	enableMetrics  bool
	enableRender   bool
	enableWasm     bool
)

// Execute builds the root command tree and runs it, returning the process
// exit code per §6's contract (0 success, 2 invalid input, 3 transient
// failure, 4 permanent failure, 5 resource exhaustion).
func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			fmt.Fprintln(os.Stderr, err)
			return ec.ExitCode()
		}
		// Errors that never passed through asExitErr come from cobra's own
		// flag and argument parsing, i.e. invalid input.
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

// exitCoder is implemented by errors that already carry the §6 exit-code
// contract (wrapping models.PipelineError).
type exitCoder interface {
	ExitCode() int
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "riptide",
		Short: "RipTide extracts, crawls, searches, and renders web content",
		Long: `riptide is a high-throughput web-content-extraction CLI: raw, WASM,
and headless extraction behind one gate classifier, with crawl, search, and
render operations layered on top.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults applied otherwise)")
	root.PersistentFlags().BoolVar(&enableMetrics, "enable-metrics", false, "Enable the metrics provider")
	root.PersistentFlags().StringVar(&metricsBackend, "metrics-backend", "prometheus", "Metrics backend: prometheus|otel")
	root.PersistentFlags().BoolVar(&enableRender, "enable-render", true, "Enable the headless render pool")
	root.PersistentFlags().BoolVar(&enableWasm, "enable-wasm", false, "Enable the WASM extractor pool")

	root.AddCommand(newExtractCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newCrawlCmd())
	root.AddCommand(newRenderCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func loadConfig() (riptide.Config, error) {
	var cfg riptide.Config
	var err error
	if configPath != "" {
		cfg, err = riptide.LoadFile(configPath)
		if err != nil {
			return riptide.Config{}, err
		}
	} else {
		cfg = riptide.Defaults()
	}
	cfg.MetricsEnabled = enableMetrics || cfg.MetricsEnabled
	if enableMetrics {
		cfg.MetricsBackend = metricsBackend
	}
	cfg.EnableRender = enableRender
	cfg.EnableWasm = enableWasm
	return cfg, nil
}

// cliExitErr wraps a failure with the exit code §6 assigns it, letting
// Execute map an arbitrary subcommand error onto the documented contract.
type cliExitErr struct {
	err  error
	code int
}

func (e *cliExitErr) Error() string { return e.err.Error() }
func (e *cliExitErr) Unwrap() error { return e.err }
func (e *cliExitErr) ExitCode() int { return e.code }

// asExitErr normalizes err onto the §6 exit-code contract: a
// *models.PipelineError carries its own kind-derived code; anything else
// that reached a subcommand boundary unconverted is treated as invalid
// input (code 2), since it almost always means a bad flag or argument.
func asExitErr(err error) error {
	if err == nil {
		return nil
	}
	if perr, ok := err.(*models.PipelineError); ok {
		return &cliExitErr{err: err, code: perr.Kind.ExitCode()}
	}
	return &cliExitErr{err: err, code: 2}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "riptide CLI")
			return nil
		},
	}
}
