package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-org/riptide"
	"github.com/riptide-org/riptide/internal/jobs"
	"github.com/riptide-org/riptide/models"
)

func newExtractCmd() *cobra.Command {
	var (
		urlFlag      string
		seedFile     string
		method       string
		engine       string
		stealth      string
		workers      int
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract one URL, or many with --seed-file, to NDJSON on stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := gatherURLs(urlFlag, seedFile)
			if err != nil {
				return asExitErr(fmt.Errorf("collect urls: %w", err))
			}
			if len(urls) == 0 {
				return asExitErr(fmt.Errorf("no URL provided: use --url or --seed-file"))
			}

			mode, err := parseMode(method)
			if err != nil {
				return asExitErr(err)
			}
			eng, err := parseEngine(engine)
			if err != nil {
				return asExitErr(err)
			}
			stealthPreset, err := parseStealth(stealth)
			if err != nil {
				return asExitErr(err)
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

			reqs := make([]models.FetchRequest, len(urls))
			for i, u := range urls {
				reqs[i] = models.FetchRequest{URL: u, Mode: mode, Engine: eng, Stealth: stealthPreset}
			}

			if len(reqs) == 1 {
				doc, err := e.Extract(cmd.Context(), reqs[0])
				if err != nil {
					return asExitErr(err)
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(doc)
			}

			exec := newBatchExecutor(e, workers)
			return exec.run(cmd.Context(), reqs, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "", "URL to extract")
	cmd.Flags().StringVar(&seedFile, "seed-file", "", "File of newline-delimited URLs to extract in batch")
	cmd.Flags().StringVar(&method, "method", "auto", "Extraction method: auto|article|full|metadata")
	cmd.Flags().StringVar(&engine, "engine", "auto", "Engine: auto|raw|wasm|headless")
	cmd.Flags().StringVar(&stealth, "stealth", "none", "Stealth preset: none|low|medium|high")
	cmd.Flags().IntVar(&workers, "workers", jobs.DefaultQueueConfig().Workers, "Concurrent workers for batch extraction")
	return cmd
}

func gatherURLs(single, seedFile string) ([]string, error) {
	var urls []string
	if single != "" {
		urls = append(urls, single)
	}
	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return nil, err
		}
		for _, line := range splitNonEmptyLines(string(data)) {
			urls = append(urls, line)
		}
	}
	return dedupStrings(urls), nil
}

func parseMode(s string) (models.ExtractionMode, error) {
	switch s {
	case "auto", "article":
		return models.ModeArticle, nil
	case "full":
		return models.ModeFull, nil
	case "metadata":
		return models.ModeMetadata, nil
	case "custom":
		return models.ModeCustom, nil
	default:
		return 0, fmt.Errorf("unknown --method %q", s)
	}
}

func parseEngine(s string) (models.Engine, error) {
	switch s {
	case "auto":
		return models.EngineAuto, nil
	case "raw":
		return models.EngineRaw, nil
	case "wasm":
		return models.EngineWasm, nil
	case "headless":
		return models.EngineHeadless, nil
	default:
		return 0, fmt.Errorf("unknown --engine %q", s)
	}
}

func parseStealth(s string) (models.StealthPreset, error) {
	switch s {
	case "none":
		return models.StealthNone, nil
	case "low":
		return models.StealthLow, nil
	case "medium":
		return models.StealthMedium, nil
	case "high":
		return models.StealthHigh, nil
	default:
		return 0, fmt.Errorf("unknown --stealth %q", s)
	}
}
