/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/calrem/internal/delivery"
	"github.com/friendsincode/calrem/internal/scheduler"
	"github.com/friendsincode/calrem/internal/server"
)

var notifyDryRun bool

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run the notifier once",
	Long: `Run a single notifier pass: read the calendar, deliver the reminders
that fell due since the stored watermark and advance it.

Use this from an external scheduler (cron, a Kubernetes CronJob or a
serverless timer) instead of running "calrem serve".

Examples:
  # Deliver through the configured backend
  calrem notify

  # Log the reminders instead of sending them; the watermark still advances
  calrem notify --dry-run
`,
	RunE: runNotify,
}

func init() {
	notifyCmd.Flags().BoolVar(&notifyDryRun, "dry-run", false, "Log reminders instead of delivering them")
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RunTimeout)
	defer cancel()

	tracerProvider, err := initTracer(ctx)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer shutdownTracer(tracerProvider)

	var deliverer delivery.Deliverer
	if notifyDryRun {
		deliverer = delivery.NewLogDeliverer(logger)
	}

	components, err := server.Build(ctx, cfg, deliverer, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error().Err(err).Msg("cleanup failed")
		}
	}()

	report, err := components.Notifier.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("notifier run: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reportOutput(report)); err != nil {
		return err
	}

	if report.Delivery.Status != "" && report.Delivery.Status != delivery.Delivered {
		return fmt.Errorf("%s: %d of %d reminders not delivered", report.Delivery.Status,
			report.Delivery.Failed, report.Delivery.Sent+report.Delivery.Failed)
	}
	return nil
}

type notifyOutput struct {
	Skipped   bool     `json:"skipped"`
	Now       int64    `json:"now"`
	Previous  int64    `json:"previous"`
	Entries   int      `json:"entries"`
	Due       int      `json:"due"`
	Messages  []string `json:"messages"`
	TodoAdded bool     `json:"todo_added"`
	Delivery  string   `json:"delivery,omitempty"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Error     string   `json:"error,omitempty"`
}

func reportOutput(r scheduler.Report) notifyOutput {
	out := notifyOutput{
		Skipped:   r.Skipped,
		Now:       r.Now,
		Previous:  r.Previous,
		Entries:   r.Entries,
		Due:       r.Due,
		Messages:  r.Messages,
		TodoAdded: r.TodoAdded,
		Delivery:  string(r.Delivery.Status),
		Sent:      r.Delivery.Sent,
		Failed:    r.Delivery.Failed,
	}
	if out.Messages == nil {
		out.Messages = []string{}
	}
	if r.Delivery.Err != nil {
		out.Error = r.Delivery.Err.Error()
	}
	return out
}
