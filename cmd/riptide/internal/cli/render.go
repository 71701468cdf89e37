package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/riptide-org/riptide"
	"github.com/riptide-org/riptide/models"
)

func newRenderCmd() *cobra.Command {
	var (
		urlFlag string
		waitFor string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a URL in a headless browser and extract the settled DOM",
		RunE: func(cmd *cobra.Command, args []string) error {
			if urlFlag == "" {
				return asExitErr(fmt.Errorf("--url is required"))
			}
			cfg, err := loadConfig()
			if err != nil {
				return asExitErr(err)
			}
			cfg.EnableRender = true
			e, err := riptide.New(cfg)
			if err != nil {
				return asExitErr(err)
			}
			defer func() { _ = e.Stop(context.Background()) }()

			req := models.FetchRequest{URL: urlFlag, Timeout: timeout}
			if waitFor != "" {
				req.WaitConditions = []models.WaitCondition{parseWaitCondition(waitFor, timeout)}
			}

			result, err := e.Render(cmd.Context(), req)
			if err != nil {
				return asExitErr(err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "", "URL to render")
	cmd.Flags().StringVar(&waitFor, "wait-for", "network-idle", "Wait condition: a CSS selector, \"network-idle\", or \"load\"")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Navigation timeout")
	return cmd
}

// parseWaitCondition maps the CLI's single --wait-for string onto the
// richer WaitCondition shape the render orchestrator consumes: a bare
// keyword selects a named strategy, anything else is treated as a CSS
// selector to wait for.
func parseWaitCondition(waitFor string, timeout time.Duration) models.WaitCondition {
	switch waitFor {
	case "network-idle":
		return models.WaitCondition{Kind: models.WaitNetworkIdle, Timeout: timeout, IdleWindow: 500 * time.Millisecond}
	case "load":
		return models.WaitCondition{Kind: models.WaitLoad, Timeout: timeout}
	case "dom-content-loaded":
		return models.WaitCondition{Kind: models.WaitDomContentLoaded, Timeout: timeout}
	default:
		return models.WaitCondition{Kind: models.WaitSelectorPresent, Selector: waitFor, Timeout: timeout}
	}
}
