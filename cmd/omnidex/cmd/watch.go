package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch providers and index changes in real time",
		Long: `Run the realtime indexing loop: every provider that can watch its
source pushes document changes straight into the index until
interrupted. Requires the realtime feature toggle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd)
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Features.Realtime {
		return fmt.Errorf("realtime indexing is disabled; enable features.realtime or set OMNIDEX_REALTIME=1")
	}

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(context.Background()) }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watchers := eng.Watchers()
	if len(watchers) == 0 {
		return fmt.Errorf("no configured provider supports watching")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "watching %d provider(s), ctrl-c to stop\n", len(watchers))

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range watchers {
		g.Go(func() error {
			return w.Watch(ctx, eng)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
