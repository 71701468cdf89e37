package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riptide-org/riptide"
)

func newSearchCmd() *cobra.Command {
	var (
		query   string
		limit   int
		country string
		locale  string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search via the configured SearchProvider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return asExitErr(fmt.Errorf("--query is required"))
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

			hits, err := e.Search(cmd.Context(), query, limit, country, locale)
			if err != nil {
				return asExitErr(err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(hits)
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "Search query")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().StringVar(&country, "country", "", "Country bias for results")
	cmd.Flags().StringVar(&locale, "locale", "", "Locale bias for results")
	return cmd
}
