package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/trainwatch/pkg/common/config"
	"github.com/synaptica-ai/trainwatch/pkg/common/httpclient"
	"github.com/synaptica-ai/trainwatch/pkg/monitor"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

type rootOptions struct {
	backendURL string
	timeout    time.Duration
	interval   time.Duration
	capacity   int
}

func (o *rootOptions) client() *training.Client {
	return training.NewClient(o.backendURL, httpclient.New(o.timeout), 3)
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "trainctl",
		Short:        "Launch and monitor training sessions",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.backendURL, "backend", cfg.TrainingBackendURL, "Training backend base URL")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", cfg.BackendRequestTimeout, "Per-request timeout for launch, stop and history")
	cmd.PersistentFlags().DurationVar(&opts.interval, "interval", cfg.Monitor.PollInterval, "Progress poll interval")
	cmd.PersistentFlags().IntVar(&opts.capacity, "capacity", cfg.Monitor.SeriesCapacity, "Points kept per metric while watching")

	cmd.AddCommand(newLaunchCmd(opts), newWatchCmd(opts), newStopCmd(opts), newHistoryCmd(opts))
	return cmd
}

func newLaunchCmd(opts *rootOptions) *cobra.Command {
	var (
		params training.LaunchParams
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start a training session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := training.NewLauncher(opts.client()).Launch(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Launched session %s", result.SessionID)
			if result.EstimatedDurationMinutes > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (estimated %.0f minutes)", result.EstimatedDurationMinutes)
			}
			fmt.Fprintln(cmd.OutOrStdout())

			if !watch {
				return nil
			}
			return watchSession(cmd.Context(), opts, result.SessionID, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&params.Targets, "agents", nil, "Agents to train (comma separated)")
	flags.StringVar(&params.Type, "type", "", "Training type")
	flags.StringVar(&params.Topic, "topic", "", "Training topic")
	flags.IntVar(&params.Parameters.Epochs, "epochs", 10, "Number of epochs")
	flags.Float64Var(&params.Parameters.LearningRate, "learning-rate", 0.001, "Learning rate")
	flags.IntVar(&params.Parameters.BatchSize, "batch-size", 32, "Batch size")
	flags.Float64Var(&params.Parameters.ValidationSplit, "validation-split", 0.2, "Fraction of data held out for validation")
	flags.StringVar(&params.Parameters.Optimizer, "optimizer", "adam", "Optimizer")
	flags.StringVar(&params.Parameters.Regularization, "regularization", "", "Regularization")
	flags.BoolVar(&watch, "watch", false, "Watch the session until it finishes")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Poll a session and log its learning curve until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchSession(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.client().Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !result.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s had already finished\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped session %s\n", args[0])
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := opts.client().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s\t%s\t%d/%d\t%.0f%%\n", s.SessionID, s.Status, s.CurrentEpoch, s.TotalEpochs, s.Progress)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of sessions to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// watchSession runs a poller in-process with a log-backed chart until the
// session finishes or the command is interrupted.
func watchSession(ctx context.Context, opts *rootOptions, sessionID string, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agg := monitor.NewAggregator(sessionID, opts.capacity, nil)
	sink := monitor.NewLogSink(sessionID)
	defer sink.Close()

	poller := monitor.NewPoller(sessionID, opts.client(), agg, sink, monitor.PollerConfig{Interval: opts.interval}, monitor.PollerHooks{})
	if err := poller.Start(ctx); err != nil {
		return err
	}

	select {
	case <-poller.Done():
	case <-ctx.Done():
		poller.Stop()
	}
	agg.Release()

	progress := poller.Progress()
	state := poller.State()
	fmt.Fprintf(out, "Session %s %s at epoch %d/%d\n", sessionID, state, progress.CurrentEpoch, progress.TotalEpochs)

	if err := poller.Err(); err != nil {
		return err
	}
	if state == monitor.StateStopped && ctx.Err() != nil {
		return errors.New("watch interrupted, session keeps running")
	}
	return nil
}
