package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded daily usage",
}

var usageTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's usage for every application",
	Args:  cobra.NoArgs,
	RunE:  runUsageToday,
}

var usageShowCmd = &cobra.Command{
	Use:     "show PACKAGE [DATE]",
	Short:   "Show the usage of one application",
	Example: `  tabnova usage show com.example.game 2024-01-15`,
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runUsageShow,
}

func init() {
	usageCmd.AddCommand(usageTodayCmd)
	usageCmd.AddCommand(usageShowCmd)
	rootCmd.AddCommand(usageCmd)
}

func runUsageToday(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	records, err := svc.tracker.TodayUsage(context.Background())
	if err != nil {
		return err
	}

	_, _ = color.New(color.FgCyan, color.Bold).Printf("Usage for %s\n", svc.tracker.Today())
	if len(records) == 0 {
		fmt.Println("No usage recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tMINUTES\tLAST UPDATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\n", r.PackageID, r.CumulativeMinutes, r.LastUpdated.Local().Format("15:04:05"))
	}
	return w.Flush()
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	date := svc.tracker.Today()
	if len(args) == 2 {
		date = args[1]
	}

	minutes, err := svc.tracker.GetUsage(context.Background(), args[0], date)
	if err != nil {
		return err
	}

	fmt.Printf("%s on %s: %d minutes\n", args[0], date, minutes)
	return nil
}
