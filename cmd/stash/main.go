package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stash-go/internal/app"
	"stash-go/internal/config"
	"stash-go/internal/encryption"
	"stash-go/internal/model"
	"stash-go/internal/stash"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var owner string

// newApp reads the config and creates a StashApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Upload", "Remove").
func newApp(ctx context.Context, operation string, opts ...func(*app.Options)) (*app.StashApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no config at %s (run `stash config init`)", defaults["config_path"])
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if owner == "" {
		owner = defaults["owner"]
	}
	o := app.Options{
		Operation:  operation,
		Owner:      owner,
		Passphrase: app.EnvOrPrompt("Passphrase: "),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a, err := app.NewStashApp(ctx, cfg, o)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "stash",
	Short:        "Deduplicating multi-tenant file store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if encrypt {
			cfg.Encryption.Type = "age"
			enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
			if err != nil {
				return err
			}
			if !enc.IsConfigured() {
				pass, err := app.EnvOrPrompt("New passphrase: ")()
				if err != nil {
					return err
				}
				if err := enc.Setup(pass); err != nil {
					return fmt.Errorf("generating keys: %w", err)
				}
			}
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		// a fresh sqlite database has no schema yet
		a, err := newApp(cmd.Context(), "Init", func(o *app.Options) { o.SkipMigrationCheck = true })
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.MigrateDatabase(); err != nil {
			return fmt.Errorf("creating database: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Blobs:      %s\n", cfg.Blobs.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Listen:     %s\n", cfg.Server.Listen)
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a directory and any missing parents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "MakeDirectories")
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.MakeDirectories(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("/%s\n", dir.Path)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer a.Close()

		target := "/"
		if len(args) > 0 {
			target = args[0]
		}
		listing, err := a.List(cmd.Context(), target)
		if err != nil {
			return err
		}

		for _, d := range listing.Directories {
			fmt.Printf("%-10s  %s  %s/\n", "-", d.CreatedAt.Format("2006-01-02 15:04"), d.Name)
		}
		for _, f := range listing.Files {
			fmt.Printf("%-10s  %s  %s  %s\n",
				units.HumanSize(float64(f.Size)),
				f.CreatedAt.Format("2006-01-02 15:04"),
				f.Name,
				color.New(color.Faint).Sprint(f.Hash.Short()),
			)
		}
		if len(listing.Directories) == 0 && len(listing.Files) == 0 {
			fmt.Println("Empty directory.")
		}
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload LOCAL_PATH [REMOTE_DIR]",
	Short: "Upload a file or a directory tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")

		a, err := newApp(cmd.Context(), "Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		remote := "/"
		if len(args) > 1 {
			remote = args[1]
		}
		created, err := a.Upload(cmd.Context(), args[0], remote, recursive)
		for _, f := range created {
			fmt.Printf("%s  %s\n", f.Hash.Short(), f.Name)
		}
		fmt.Printf("Uploaded %d file(s)\n", len(created))
		if err != nil {
			return fmt.Errorf("upload incomplete: %w", err)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download REMOTE_PATH [LOCAL_PATH]",
	Short: "Download a file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Download")
		if err != nil {
			return err
		}
		defer a.Close()

		local := "."
		if len(args) > 1 {
			local = args[1]
		}
		written, err := a.Download(cmd.Context(), args[0], local)
		if err != nil {
			return err
		}
		fmt.Printf("Downloaded to %s\n", written)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Remove")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Remove(cmd.Context(), args[0])
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir PATH",
	Short: "Delete a directory and everything below it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RemoveDirectory")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.RemoveDirectory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d file(s)\n", n)
		return nil
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv PATH NEW_NAME",
	Short: "Rename a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Rename")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.Rename(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(f.Name)
		return nil
	},
}

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Check the ledger against file entries and stored blobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		repair, _ := cmd.Flags().GetBool("repair")

		a, err := newApp(cmd.Context(), "Check")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Check(cmd.Context(), repair)
		if err != nil {
			return err
		}
		printReport(report)
		if !report.Clean() && !repair {
			return fmt.Errorf("store is inconsistent (rerun with --repair)")
		}
		return nil
	},
}

func printReport(r *stash.CheckReport) {
	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	good := color.New(color.FgGreen).SprintFunc()

	fmt.Printf("%d blob(s), %d ledger row(s), %d file entries\n", r.Blobs, r.References, r.Entries)
	for _, h := range r.MissingBlobs {
		fmt.Printf("%s  %s\n", bad("missing "), h)
	}
	for _, h := range r.OrphanBlobs {
		fmt.Printf("%s  %s\n", warn("orphan  "), h)
	}
	for _, h := range r.PendingBlobs {
		fmt.Printf("%s  %s  (stored less than %s ago, left alone)\n", "pending ", h, stash.OrphanGracePeriod)
	}
	for _, m := range r.Mismatches {
		fmt.Printf("%s  %s  ledger=%d entries=%d\n", warn("mismatch"), m.Hash, m.Ledger, m.Entries)
	}
	if r.Repaired > 0 {
		fmt.Printf("Repaired %d problem(s)\n", r.Repaired)
	}
	if r.Clean() {
		fmt.Println(good("OK"))
	}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			fmt.Println(formatOperation(op))
		}
		return nil
	},
}

func formatOperation(op *model.Operation) string {
	duration := ""
	if op.FinishedAt != nil {
		duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
	}
	return strings.TrimRight(fmt.Sprintf("#%d  %-15s  %-10s  %s  %-8s  %-10s  %s",
		op.ID,
		op.Operation,
		op.Owner,
		op.StartedAt.Format("2006-01-02 15:04:05"),
		op.Status,
		duration,
		op.Parameters,
	), " ")
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Snapshot the metadata database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Migrate", func(o *app.Options) { o.SkipMigrationCheck = true })
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.MigrateDatabase(); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "Namespace to act in (default $STASH_OWNER or the current user)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("encrypt", false, "Generate an age key pair and seal blobs at rest")
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbMigrateCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rmdirCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(fsckCmd)
	fsckCmd.Flags().Bool("repair", false, "Reset ledger counts and erase orphan blobs")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
}
