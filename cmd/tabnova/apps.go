package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/spf13/cobra"
)

var (
	appDisplayName string
	appLimit       int
	appToken       string
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage monitored applications",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored applications",
	Args:  cobra.NoArgs,
	RunE:  runAppsList,
}

var appsAddCmd = &cobra.Command{
	Use:     "add PACKAGE",
	Short:   "Start monitoring an application",
	Example: `  tabnova apps add com.example.game --limit 30 --name "Example Game"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAppsAdd,
}

var appsRemoveCmd = &cobra.Command{
	Use:   "remove PACKAGE",
	Short: "Stop monitoring an application and remove its shield",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppsRemove,
}

var appsLimitCmd = &cobra.Command{
	Use:     "limit PACKAGE MINUTES",
	Short:   "Change the daily limit of an application",
	Example: `  tabnova apps limit com.example.game 45`,
	Args:    cobra.ExactArgs(2),
	RunE:    runAppsLimit,
}

var appsUnblockCmd = &cobra.Command{
	Use:   "unblock PACKAGE",
	Short: "Remove the shield of an application",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppsUnblock,
}

var appsPlanCmd = &cobra.Command{
	Use:   "plan PACKAGE",
	Short: "Show the thresholds scheduled for an application",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppsPlan,
}

func init() {
	appsAddCmd.Flags().StringVar(&appDisplayName, "name", "", "Display name")
	appsAddCmd.Flags().IntVar(&appLimit, "limit", 0, "Daily limit in minutes (defaults to usage.default_limit_minutes)")
	appsAddCmd.Flags().StringVar(&appToken, "token", "", "Base64 host monitoring token")

	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsAddCmd)
	appsCmd.AddCommand(appsRemoveCmd)
	appsCmd.AddCommand(appsLimitCmd)
	appsCmd.AddCommand(appsUnblockCmd)
	appsCmd.AddCommand(appsPlanCmd)
	rootCmd.AddCommand(appsCmd)
}

func runAppsList(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := context.Background()
	apps, err := svc.store.Apps().List(ctx)
	if err != nil {
		return err
	}

	if len(apps) == 0 {
		fmt.Println("No monitored applications")
		return nil
	}

	today := svc.tracker.Today()
	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tNAME\tLIMIT\tUSED\tSTATE")
	for _, app := range apps {
		used, err := svc.tracker.GetUsage(ctx, app.PackageID, today)
		if err != nil {
			return err
		}

		state := green.Sprint("open")
		if app.Shielded {
			state = red.Sprint("shielded")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", app.PackageID, app.DisplayName, app.DailyLimitMinutes, used, state)
	}
	return w.Flush()
}

func runAppsAdd(cmd *cobra.Command, args []string) error {
	var token []byte
	if appToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(appToken)
		if err != nil {
			return fmt.Errorf("invalid --token: %w", err)
		}
		token = decoded
	}

	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	app, err := svc.monitor.Start(context.Background(), storage.MonitoredApp{
		PackageID:         args[0],
		DisplayName:       appDisplayName,
		DailyLimitMinutes: appLimit,
		Token:             token,
	})
	if err != nil {
		return err
	}

	_, _ = color.New(color.FgGreen).Printf("Monitoring %s with a daily limit of %d minutes\n", app.PackageID, app.DailyLimitMinutes)
	return nil
}

func runAppsRemove(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.monitor.Stop(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Stopped monitoring %s\n", args[0])
	return nil
}

func runAppsLimit(cmd *cobra.Command, args []string) error {
	limit, err := strconv.Atoi(args[1])
	if err != nil || limit <= 0 {
		return fmt.Errorf("invalid limit %q: must be a positive number of minutes", args[1])
	}

	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	app, err := svc.monitor.SetLimit(context.Background(), args[0], limit)
	if err != nil {
		return err
	}

	fmt.Printf("Daily limit of %s set to %d minutes\n", app.PackageID, app.DailyLimitMinutes)
	if app.Shielded {
		_, _ = color.New(color.FgRed, color.Bold).Println("Application is shielded: today's usage is over the new limit")
	}
	return nil
}

func runAppsUnblock(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	changed, err := svc.shields.Unblock(context.Background(), args[0])
	if err != nil {
		return err
	}

	if !changed {
		fmt.Printf("%s is not shielded\n", args[0])
		return nil
	}
	_, _ = color.New(color.FgGreen).Printf("Shield removed from %s\n", args[0])
	return nil
}

func runAppsPlan(cmd *cobra.Command, args []string) error {
	svc, err := loadCLI()
	if err != nil {
		return err
	}
	defer svc.Close()

	app, err := svc.store.Apps().Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", args[0], err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Printf("%s (limit %d minutes)\n", app.PackageID, app.DailyLimitMinutes)
	for _, t := range svc.monitor.Plan(app.DailyLimitMinutes) {
		fmt.Printf("  %4d min  %s\n", t.Minutes, t.Kind)
	}
	return nil
}
