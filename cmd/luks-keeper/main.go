package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"luks-keeper/internal/app"
	"luks-keeper/internal/config"
	"luks-keeper/internal/keeper"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var (
	configPath string
	timeout    time.Duration
	verbose    bool
)

// resolveConfigPath returns --config when given, otherwise the default.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	defaults, err := app.GetDefaults()
	if err != nil {
		return "", fmt.Errorf("getting defaults: %w", err)
	}
	return defaults["config_path"], nil
}

func loadConfig() (*config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp(ctx context.Context, command string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(ctx, cfg, command, app.NewTerminalPrompter(), verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// commandContext applies --timeout to the whole command.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func printReports(reports []keeper.DeviceReport) {
	for _, r := range reports {
		fmt.Printf("%-20s %s\n", r.Name, r.State)
	}
}

var rootCmd = &cobra.Command{
	Use:           "luks-keeper",
	Short:         "Open, mount and snapshot LUKS devices",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Add devices to it, then run 'luks-keeper identity init'.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Keystore:      %s\n", cfg.KeyStore.Type)
		if cfg.KeyStore.KeyDir != "" {
			fmt.Printf("Key Dir:       %s\n", cfg.KeyStore.KeyDir)
		}
		if cfg.KeyStore.S3Bucket != "" {
			fmt.Printf("S3 Bucket:     %s/%s\n", cfg.KeyStore.S3Bucket, cfg.KeyStore.S3Prefix)
		}
		fmt.Printf("Identity:      %s\n", cfg.Encryption.PublicKeyPath)

		plan := cfg.Plan()
		if plan.Retention.Enabled() {
			fmt.Printf("Snapshots:     %s -> %s (keep %d days)\n", plan.SnapshotSource(), plan.Retention.Root, plan.Retention.RetentionDays)
		} else {
			fmt.Println("Snapshots:     disabled")
		}
		fmt.Printf("Unmount Order: %s\n", plan.UnmountOrder)

		fmt.Println("\nDevices:")
		for _, d := range plan.Devices {
			mount := d.MountPoint
			if mount == "" {
				mount = "(not mounted)"
			}
			fmt.Printf("  %-18s %-20s %s\n", d.Name, d.DevNode, mount)
		}
		return nil
	},
}

// identity command
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the identity that seals passphrase records",
}

var identityInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the identity key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pub, err := app.InitIdentity(cfg, app.NewTerminalPrompter())
		if err != nil {
			return err
		}
		fmt.Printf("Identity created at %s\n", cfg.Encryption.PrivateKeyPath)
		if pub != "" {
			fmt.Printf("Public key: %s\n", pub)
		}
		return nil
	},
}

// key command
var keyCmd = &cobra.Command{
	Use:   "key DEVICE",
	Short: "Store or rotate the passphrase record for a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rotate, _ := cmd.Flags().GetBool("rotate")
		yes, _ := cmd.Flags().GetBool("yes")
		recipient, _ := cmd.Flags().GetString("recipient")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, "key")
		if err != nil {
			return err
		}
		defer a.Close()

		device := args[0]
		var written bool
		if rotate {
			written, err = a.RotateKey(ctx, device, recipient, yes)
		} else {
			written, err = a.EnsureKey(ctx, device, recipient)
		}
		if err != nil {
			return err
		}

		switch {
		case written && rotate:
			fmt.Printf("Passphrase for %s rotated\n", device)
		case written:
			fmt.Printf("Passphrase for %s stored\n", device)
		case rotate:
			fmt.Println("Aborted.")
		default:
			fmt.Printf("Passphrase for %s already stored (use --rotate to replace it)\n", device)
		}
		return nil
	},
}

// mount command
var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Open and mount all devices, then snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, "mount")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Mount(ctx)
		if result != nil {
			printReports(result.Devices)
			for _, p := range result.Pruned {
				if p.Action == keeper.PruneRemoved {
					fmt.Printf("Pruned snapshot %s\n", p.Name)
				}
			}
			if result.Snapshot != "" {
				fmt.Printf("Snapshot %s\n", result.Snapshot)
			}
		}
		return err
	},
}

// unmount command
var unmountCmd = &cobra.Command{
	Use:   "unmount",
	Short: "Unmount and close all devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, "unmount")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Unmount(ctx)
		if result != nil {
			printReports(result.Devices)
		}
		return err
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether each device is open and mounted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, "status")
		if err != nil {
			return err
		}
		defer a.Close()

		reports, err := a.Status(ctx)
		printReports(reports)
		return err
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past mount, unmount and key runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := newApp(ctx, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(ctx, limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if d := r.Duration(); d > 0 {
				duration = d.Truncate(time.Millisecond).String()
			}
			detail := r.Snapshot
			if r.Error != "" {
				detail = "error: " + r.Error
			}
			fmt.Printf("%-8s  %s  %-10s  %-8s  %s\n",
				r.Command,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				detail,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $LUKS_KEEPER_CONFIG or ~/.config/luks-keeper.toml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Abort the command after this long (0 disables)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// identity subcommands
	identityCmd.AddCommand(identityInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(keyCmd)
	keyCmd.Flags().Bool("rotate", false, "Replace an existing passphrase record")
	keyCmd.Flags().BoolP("yes", "y", false, "Do not ask before replacing")
	keyCmd.Flags().String("recipient", "", "age recipient to seal the record to (default: configured recipient or own identity)")
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
