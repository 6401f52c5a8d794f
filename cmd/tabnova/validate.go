package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/tabnova/internal/config"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Tabnova configuration file and shield policy for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	if _, err := shield.LoadDecider(cfg.Shield.PolicyFile, zerolog.Nop()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Shield policy validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := config.UnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults())
	}

	return nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Println("\n[server]")
	dumpField("  api_address", cfg.Server.APIAddress, defaultCfg.Server.APIAddress, yellow, green)
	dumpField("  api_token", redact(cfg.Server.APIToken), redact(defaultCfg.Server.APIToken), yellow, green)
	dumpField("  metrics_address", cfg.Server.MetricsAddress, defaultCfg.Server.MetricsAddress, yellow, green)

	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redact(cfg.Storage.Redis.Password), redact(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix, yellow, green)
	_, _ = cyan.Println("  [storage.sqlite]")
	dumpField("    path", cfg.Storage.SQLite.Path, defaultCfg.Storage.SQLite.Path, yellow, green)

	_, _ = cyan.Println("\n[backend]")
	dumpField("  base_url", cfg.Backend.BaseURL, defaultCfg.Backend.BaseURL, yellow, green)
	dumpField("  auth_token", redact(cfg.Backend.AuthToken), redact(defaultCfg.Backend.AuthToken), yellow, green)
	dumpField("  timeout", cfg.Backend.Timeout, defaultCfg.Backend.Timeout, yellow, green)

	_, _ = cyan.Println("\n[device]")
	dumpField("  email", cfg.Device.Email, defaultCfg.Device.Email, yellow, green)
	dumpField("  profile_id", cfg.Device.ProfileID, defaultCfg.Device.ProfileID, yellow, green)
	dumpField("  serial_number", cfg.Device.SerialNumber, defaultCfg.Device.SerialNumber, yellow, green)
	dumpField("  app_version", cfg.Device.AppVersion, defaultCfg.Device.AppVersion, yellow, green)
	dumpField("  battery_percentage", cfg.Device.BatteryPercentage, defaultCfg.Device.BatteryPercentage, yellow, green)

	_, _ = cyan.Println("\n[usage]")
	dumpField("  event_log_capacity", cfg.Usage.EventLogCapacity, defaultCfg.Usage.EventLogCapacity, yellow, green)
	dumpField("  retention_days", cfg.Usage.RetentionDays, defaultCfg.Usage.RetentionDays, yellow, green)
	dumpField("  default_limit_minutes", cfg.Usage.DefaultLimitMinutes, defaultCfg.Usage.DefaultLimitMinutes, yellow, green)
	dumpField("  dedup_cache_size", cfg.Usage.DedupCacheSize, defaultCfg.Usage.DedupCacheSize, yellow, green)
	dumpField("  report_mode", cfg.Usage.ReportMode, defaultCfg.Usage.ReportMode, yellow, green)
	dumpField("  poll_interval", cfg.Usage.PollInterval, defaultCfg.Usage.PollInterval, yellow, green)
	dumpField("  daily_reset_time", cfg.Usage.DailyResetTime, defaultCfg.Usage.DailyResetTime, yellow, green)
	dumpField("  threshold_step_minutes", cfg.Usage.ThresholdStepMinutes, defaultCfg.Usage.ThresholdStepMinutes, yellow, green)
	dumpField("  threshold_plan", cfg.Usage.ThresholdPlan, defaultCfg.Usage.ThresholdPlan, yellow, green)

	_, _ = cyan.Println("\n[shield]")
	dumpField("  policy_file", cfg.Shield.PolicyFile, defaultCfg.Shield.PolicyFile, yellow, green)
	dumpField("  clear_on_rollover", cfg.Shield.ClearOnRollover, defaultCfg.Shield.ClearOnRollover, yellow, green)

	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redact hides secrets that are set
func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
