package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

type crawlFlags struct {
	source    string
	start     int
	requested int
	params    []string
}

type crawlOutput struct {
	Session crawler.SessionRecord `json:"session"`
	Result  crawler.ResultView    `json:"result"`
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one session in-process
// and prints the finished record and result as JSON.
func newCrawlCmd() *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl session and prints its result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.source, "source", "", "configured source name")
	cmd.Flags().IntVar(&flags.start, "start", 1, "first page to fetch")
	cmd.Flags().IntVar(&flags.requested, "requested", crawler.DefaultBudget,
		"pages (or items) to collect; -1 means all, default uses the configured budget")
	cmd.Flags().StringSliceVar(&flags.params, "param", nil, "source query parameter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, flags *crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(context.Background()); cerr != nil {
			appInstance.Logger().Warn("failed to close application", zap.Error(cerr))
		}
	}()

	if flags.start < 1 {
		return fmt.Errorf("--start must be >= 1, got %d", flags.start)
	}
	if cmd.Flags().Changed("requested") && flags.requested < crawler.Unbounded {
		return fmt.Errorf("--requested must be >= -1, got %d", flags.requested)
	}
	params, err := parseParams(flags.params)
	if err != nil {
		return err
	}

	record, view, err := appInstance.Crawl(cmd.Context(), crawler.SessionRequest{
		Source:    flags.source,
		StartPage: flags.start,
		Requested: flags.requested,
		Params:    params,
	})
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	appInstance.Logger().Info("crawl command finished",
		zap.String("session_id", record.ID),
		zap.String("outcome", string(record.Outcome)),
		zap.Int("items", len(view.Identifiers)),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(crawlOutput{Session: record, Result: view}); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		params[key] = value
	}
	return params, nil
}
