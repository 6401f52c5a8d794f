package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/tabnova/internal/events"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/spf13/cobra"
)

var (
	eventPackage string
	eventMinutes int
	eventAt      string
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Append threshold events to the shared event log",
	Long: `Append threshold events the way the monitoring host does. Events are only
appended; the running daemon picks them up on its next drain cycle.`,
}

var eventThresholdCmd = &cobra.Command{
	Use:     "threshold",
	Short:   "Append a threshold crossing",
	Example: `  tabnova event threshold --package com.example.game --minutes 15`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return appendEvent(cmd.Context(), storage.EventThreshold)
	},
}

var eventLimitCmd = &cobra.Command{
	Use:   "limit",
	Short: "Append a limit-reached event",
	Long: `Append a limit-reached event. Without --minutes the app's configured daily
limit is used.`,
	Example: `  tabnova event limit --package com.example.game`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return appendEvent(cmd.Context(), storage.EventLimitReached)
	},
}

var eventNameCmd = &cobra.Command{
	Use:     "name NAME",
	Short:   "Append an event from a legacy event name",
	Example: `  tabnova event name TabnovaEMM.com.example.game.threshold.15min`,
	Args:    cobra.ExactArgs(1),
	RunE:    runEventName,
}

func init() {
	for _, c := range []*cobra.Command{eventThresholdCmd, eventLimitCmd} {
		c.Flags().StringVar(&eventPackage, "package", "", "Application package id (required)")
		c.Flags().IntVar(&eventMinutes, "minutes", 0, "Cumulative minutes for the monitoring window")
		c.Flags().StringVar(&eventAt, "at", "", "Event time (RFC 3339), defaults to now")
		_ = c.MarkFlagRequired("package")
	}
	eventNameCmd.Flags().StringVar(&eventAt, "at", "", "Event time (RFC 3339), defaults to now")

	eventCmd.AddCommand(eventThresholdCmd)
	eventCmd.AddCommand(eventLimitCmd)
	eventCmd.AddCommand(eventNameCmd)
	rootCmd.AddCommand(eventCmd)
}

func eventTime() (time.Time, error) {
	if eventAt == "" {
		return time.Now(), nil
	}
	at, err := time.Parse(time.RFC3339, eventAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at time %q: %w", eventAt, err)
	}
	return at, nil
}

func appendEvent(ctx context.Context, kind storage.EventKind) error {
	at, err := eventTime()
	if err != nil {
		return err
	}

	ev := events.NewThreshold(eventPackage, eventMinutes, at)
	if kind == storage.EventLimitReached {
		ev = events.NewLimitReached(eventPackage, eventMinutes, at)
	}

	return submitEvent(ctx, ev)
}

func runEventName(cmd *cobra.Command, args []string) error {
	at, err := eventTime()
	if err != nil {
		return err
	}

	ev, err := events.ParseLegacyName(args[0], at)
	if err != nil {
		return err
	}

	return submitEvent(cmd.Context(), ev)
}

func submitEvent(ctx context.Context, ev storage.ThresholdEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	ev, err = events.ResolveLimit(ctx, svc.store.Apps(), ev)
	if err != nil {
		return err
	}

	if err := svc.pipeline.Append(ctx, ev); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	_, _ = green.Printf("Appended %s event: %s at %d minutes\n", ev.Kind, ev.PackageID, ev.CumulativeMinutes)
	return nil
}
