package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omnidex/omnidex/internal/config"
	"github.com/omnidex/omnidex/internal/engine"
	"github.com/omnidex/omnidex/internal/model"
)

// indexOptions holds CLI flags for indexing.
type indexOptions struct {
	incremental bool
	wait        bool
	providers   []string
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [provider...]",
		Short: "Index documents from configured providers",
		Long: `Enqueue indexing jobs for the named providers, or for every
enabled provider when none are given.

A full job re-pulls the whole corpus; --incremental pulls only changes
since the provider's last sync and skips unchanged documents.

Examples:
  omnidex index
  omnidex index work-files --incremental
  omnidex index github-main --no-wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.providers = args
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.incremental, "incremental", "i", false, "Pull only changes since the last sync")
	cmd.Flags().BoolVar(&opts.wait, "wait", true, "Wait for jobs to finish")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(ctx) }()

	targets := opts.providers
	if len(targets) == 0 {
		for _, p := range cfg.Providers {
			if p.Enabled {
				targets = append(targets, p.ID)
			}
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("no providers configured; add providers to %s", config.DefaultPath())
	}

	jobType := model.JobTypeFull
	if opts.incremental {
		jobType = model.JobTypeIncremental
	}

	out := cmd.OutOrStdout()
	jobIDs := make([]string, 0, len(targets))
	for _, providerID := range targets {
		jobID, err := eng.EnqueueIndexing(jobType, providerID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s job %s for provider %s\n", jobType, jobID, providerID)
		jobIDs = append(jobIDs, jobID)
	}

	if !opts.wait {
		return nil
	}

	var failed int
	for _, jobID := range jobIDs {
		job, err := waitForJob(ctx, eng, jobID)
		if err != nil {
			return err
		}
		switch job.Status {
		case model.JobStatusCompleted:
			fmt.Fprintf(out, "job %s completed: %d documents indexed\n", job.ID, job.Progress.Indexed)
		case model.JobStatusFailed:
			failed++
			msg := "unknown error"
			if job.Error != nil {
				msg = job.Error.Message
				if job.Error.DocumentID != "" {
					msg = fmt.Sprintf("%s (document %s)", msg, job.Error.DocumentID)
				}
			}
			fmt.Fprintf(out, "job %s failed after %d documents: %s\n", job.ID, job.Progress.Indexed, msg)
		default:
			fmt.Fprintf(out, "job %s %s\n", job.ID, job.Status)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobIDs))
	}
	return nil
}

func waitForJob(ctx context.Context, eng *engine.Engine, jobID string) (model.IndexingJob, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := eng.JobStatus(jobID)
		if err != nil {
			return model.IndexingJob{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
