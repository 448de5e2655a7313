package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/omnidex/omnidex/internal/engine"
	"github.com/omnidex/omnidex/internal/model"
	"github.com/omnidex/omnidex/internal/telemetry"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health, provider state, and recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type statusReport struct {
	Health engine.HealthStatus `json:"health"`
	Jobs   []model.IndexingJob `json:"jobs,omitempty"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(ctx) }()

	health := eng.HealthStatus(ctx)
	jobs := eng.Jobs()

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statusReport{Health: health, Jobs: jobs})
	}

	out := cmd.OutOrStdout()
	state := "healthy"
	if !health.IsHealthy {
		state = "unhealthy"
	}
	fmt.Fprintf(out, "index: %s, %d documents", state, health.TotalDocuments)
	if health.Recovered {
		fmt.Fprint(out, " (recovered from corruption at startup)")
	}
	fmt.Fprintln(out)

	if len(health.ProviderHealth) > 0 {
		fmt.Fprintln(out, "\nproviders:")
		sorted := append([]model.ProviderHealth(nil), health.ProviderHealth...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProviderID < sorted[j].ProviderID })
		for _, ph := range sorted {
			fmt.Fprintf(out, "  %-20s %s (%dms)\n", ph.ProviderID, ph.Status, ph.ResponseTimeMS)
			for _, issue := range ph.Issues {
				fmt.Fprintf(out, "    [%s] %s\n", issue.Severity, issue.Message)
			}
		}
	}

	if perf := health.Performance; perf != nil {
		fmt.Fprintf(out, "\nsearches: %d total, %d over budget, %d with zero results\n",
			perf.TotalSearches, perf.BudgetBreaches, perf.ZeroResultCount)
		if op, ok := perf.PerOp[telemetry.OpSearch]; ok && op.Count > 0 {
			fmt.Fprintf(out, "search latency: avg %.1fms, max %dms\n", op.AvgMS, op.MaxMS)
		}
	}

	if len(jobs) > 0 {
		fmt.Fprintln(out, "\nrecent jobs:")
		limit := min(len(jobs), 10)
		for _, job := range jobs[:limit] {
			fmt.Fprintf(out, "  %s  %-11s %s provider=%s indexed=%d\n",
				job.ID, job.Status, job.JobType, job.ProviderID, job.Progress.Indexed)
		}
	}
	return nil
}
