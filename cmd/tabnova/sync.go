package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply daily limits from the MDM backend",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Report every usage record of today in one batch",
	Args:  cobra.NoArgs,
	RunE:  runResync,
}

var ackCmd = &cobra.Command{
	Use:   "ack",
	Short: "Acknowledge the pending device-profile command",
	Args:  cobra.NoArgs,
	RunE:  runAck,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(ackCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	changed, err := svc.monitor.SyncFromServer(context.Background())
	if err != nil {
		return err
	}

	if len(changed) == 0 {
		fmt.Println("All limits are up to date")
		return nil
	}

	yellow := color.New(color.FgYellow)
	for _, pkg := range changed {
		_, _ = yellow.Printf("Updated limit: %s\n", pkg)
	}
	return nil
}

func runResync(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.pipeline.Resync(context.Background()); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen).Println("Usage reported")
	return nil
}

func runAck(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.backend.AcknowledgeCommand(context.Background()); err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen).Println("Command acknowledged")
	return nil
}
