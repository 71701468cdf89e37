package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/riptide-org/riptide"
	"github.com/riptide-org/riptide/internal/output"
	"github.com/riptide-org/riptide/internal/output/stdout"
)

func newCrawlCmd() *cobra.Command {
	var (
		urlFlag    string
		depth      int
		maxPages   int
		outputDir  string
		sameDomain bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Breadth-first crawl from a seed URL, extracting each admitted page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if urlFlag == "" {
				return asExitErr(fmt.Errorf("--url is required"))
			}
			if depth < 0 || maxPages <= 0 {
				return asExitErr(fmt.Errorf("--depth must be >= 0 and --max-pages must be > 0"))
			}

			cfg, err := loadConfig()
			if err != nil {
				return asExitErr(err)
			}
			e, err := riptide.New(cfg)
			if err != nil {
				return asExitErr(err)
			}
			defer func() { _ = e.Stop(context.Background()) }()

			var sink output.Sink
			if outputDir != "" {
				if err := os.MkdirAll(outputDir, 0o755); err != nil {
					return asExitErr(fmt.Errorf("create output dir: %w", err))
				}
				f, err := os.Create(filepath.Join(outputDir, "pages.ndjson"))
				if err != nil {
					return asExitErr(fmt.Errorf("create output file: %w", err))
				}
				defer func() { _ = f.Close() }()
				sink = stdout.New(f)
			} else {
				sink = stdout.New(cmd.OutOrStdout())
			}
			defer func() { _ = sink.Close() }()

			out := e.Crawl(cmd.Context(), urlFlag, depth, maxPages, riptide.CrawlOptions{SameDomain: sameDomain})
			var firstErr error
			for item := range out {
				if sinkErr := sink.Write(item); sinkErr != nil && firstErr == nil {
					firstErr = sinkErr
				}
			}
			if firstErr != nil {
				return asExitErr(firstErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "", "Seed URL")
	cmd.Flags().IntVar(&depth, "depth", 2, "Maximum link-following depth")
	cmd.Flags().IntVar(&maxPages, "max-pages", 100, "Maximum number of pages to visit")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory to write pages.ndjson into (stdout if unset)")
	cmd.Flags().BoolVar(&sameDomain, "same-domain", true, "Restrict discovered links to the seed's domain")
	return cmd
}
