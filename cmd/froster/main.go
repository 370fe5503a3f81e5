package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"froster-go/internal/app"
	"froster-go/internal/config"
	"froster-go/internal/froster"
	"froster-go/internal/history"
	"froster-go/internal/slurm"

	"github.com/spf13/cobra"
)

// errDeferred signals that the invocation was handed off to the
// scheduler (or must be re-run later) rather than failing. main maps
// it to the requeue exit code.
var errDeferred = errors.New("operation deferred")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errDeferred):
		os.Exit(slurm.ExitRequeue)
	default:
		os.Exit(1)
	}
}

// readConfig loads the config from its default (or FROSTER_CONFIG
// overridden) location.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaults["data_dir"]
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults["log_dir"]
	}
	return cfg, nil
}

// newApp reads the config and creates a fully wired FrosterApp. The
// caller must defer a.Close(). operation identifies the CLI command
// being run (e.g. "archive", "restore").
func newApp(cmd *cobra.Command, operation string) (*app.FrosterApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(cmd.Context(), cfg, operation, appOptions(cmd))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// newLocalApp is newApp without the object-store session, for commands
// that never touch the remote.
func newLocalApp(cmd *cobra.Command, operation string) (*app.FrosterApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewLocalApp(cfg, operation, appOptions(cmd))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func appOptions(cmd *cobra.Command) app.Options {
	profile, _ := cmd.Flags().GetString("profile")
	cores, _ := cmd.Flags().GetInt("cores")
	debug, _ := cmd.Flags().GetBool("debug")
	return app.Options{
		Profile: profile,
		Cores:   cores,
		Debug:   debug,
		Console: os.Stdout,
	}
}

// submitBatch hands the current invocation to the scheduler when one
// is available and --no-slurm was not given. Returns true when the
// work now belongs to a batch job.
func submitBatch(cmd *cobra.Command, a *app.FrosterApp, kind, label string, begin time.Duration) (bool, error) {
	noSlurm, _ := cmd.Flags().GetBool("no-slurm")
	if noSlurm || !slurm.Detect() {
		return false, nil
	}
	cores, _ := cmd.Flags().GetInt("cores")
	memGiB, _ := cmd.Flags().GetInt("mem")

	argv := append(append([]string(nil), os.Args...), "--no-slurm")
	jobID, err := a.Batcher().Submit(cmd.Context(), slurm.JobSpec{
		Kind:   kind,
		Label:  label,
		Argv:   argv,
		Cores:  cores,
		MemMiB: memGiB * 1024,
		Begin:  begin,
	})
	if err != nil {
		return false, fmt.Errorf("submitting batch job: %w", err)
	}
	fmt.Printf("Submitted batch job %s; check progress with: squeue -j %s\n", jobID, jobID)
	return true, nil
}

var rootCmd = &cobra.Command{
	Use:           "froster",
	Short:         "Archive and restore folder trees on S3-compatible cold storage",
	SilenceUsage:  true,
	SilenceErrors: false,
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
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["data_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Data Dir: %s\n", defaults["data_dir"])
		fmt.Println("Add at least one [profiles.<name>] section before archiving.")
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
		fmt.Printf("Default Profile: %s\n", cfg.DefaultProfile)
		fmt.Printf("Data Dir:        %s\n", cfg.DataDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		for name, p := range cfg.Profiles {
			fmt.Printf("\nProfile %s:\n", name)
			fmt.Printf("  Provider:      %s\n", p.Provider)
			fmt.Printf("  Bucket:        %s\n", p.Bucket)
			fmt.Printf("  Archive Dir:   %s\n", p.ArchiveDir)
			fmt.Printf("  Storage Class: %s\n", p.StorageClass)
		}
		return nil
	},
}

// credentials command
var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Verify object store access for the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "credentials")
		if err != nil {
			return err
		}
		defer a.Close()

		create, _ := cmd.Flags().GetBool("create-bucket")
		if create {
			if err := a.EnsureBucket(cmd.Context()); err != nil {
				return fmt.Errorf("creating bucket: %w", err)
			}
		}

		access, err := a.Credentials(cmd.Context())
		if err != nil {
			return fmt.Errorf("probing bucket: %w", err)
		}

		t := a.Target()
		fmt.Printf("Profile : %s (%s)\n", a.Profile(), t.Provider)
		fmt.Printf("Bucket  : %s\n", t.Bucket)
		fmt.Printf("Read    : %v\n", access.Readable)
		fmt.Printf("Write   : %v\n", access.Writable)
		if !access.Readable || !access.Writable {
			return fmt.Errorf("insufficient bucket access")
		}
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index FOLDER...",
	Short: "Scan filesystem trees and report archival hotspots",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newLocalApp(cmd, "index")
		if err != nil {
			return err
		}
		defer a.Close()

		force, _ := cmd.Flags().GetBool("force")
		perms, _ := cmd.Flags().GetBool("permissions")
		pwalkCopy, _ := cmd.Flags().GetString("pwalk-copy")

		a.Record(strings.Join(args, " "))
		for _, folder := range args {
			res, err := a.Index(cmd.Context(), folder, app.IndexFlags{
				Force:        force,
				PwalkCopyDir: pwalkCopy,
			})
			if err != nil {
				a.Finish(history.StatusFailed, err.Error())
				return err
			}

			for _, dir := range res.LockedDirs {
				fmt.Printf("Not readable, skipped: %s\n", dir)
			}
			if res.Reused {
				fmt.Printf("Reusing report from a previous run of %s (use --force to re-scan)\n", folder)
			} else {
				fmt.Printf("Scanned %d folder(s), %d hotspot(s) found\n", res.Scanned, len(res.Hotspots))
			}
			for _, h := range res.Hotspots {
				if perms {
					fmt.Printf("%8.1f GiB  %6.1f MiB/file  %s %s:%s  %s\n",
						h.GiB, h.MiBAvg, folderMode(h.Folder), h.User, h.Group, h.Folder)
				} else {
					fmt.Printf("%8.1f GiB  %6.1f MiB/file  %s\n", h.GiB, h.MiBAvg, h.Folder)
				}
			}
			fmt.Printf("Report: %s\n", res.CSVPath)
		}
		a.Finish(history.StatusCompleted, "")
		return nil
	},
}

// folderMode formats a folder's permission bits for --permissions
// output. The folder can vanish between the walk and the print.
func folderMode(folder string) string {
	info, err := os.Stat(folder)
	if err != nil {
		return "??????????"
	}
	return info.Mode().String()
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive FOLDER...",
	Short: "Pack, upload and verify folders, then register them in the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "archive")
		if err != nil {
			return err
		}
		defer a.Close()

		recursive, _ := cmd.Flags().GetBool("recursive")
		reset, _ := cmd.Flags().GetBool("reset")
		if reset {
			return a.Service().Reset(args, recursive)
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if !dryRun {
			if submitted, err := submitBatch(cmd, a, "archive", args[0], 0); err != nil || submitted {
				return err
			}
		}

		noTar, _ := cmd.Flags().GetBool("no-tar")
		force, _ := cmd.Flags().GetBool("force")
		smallKiB, _ := cmd.Flags().GetInt64("smallfiles")
		nihWanted, _ := cmd.Flags().GetBool("nih")
		nih, _ := cmd.Flags().GetString("nih-ref")
		if nihWanted && nih == "" {
			return fmt.Errorf("--nih requires --nih-ref REF when running non-interactively")
		}
		older, _ := cmd.Flags().GetInt("older")
		newer, _ := cmd.Flags().GetInt("newer")
		mtime, _ := cmd.Flags().GetBool("mtime")
		larger, _ := cmd.Flags().GetFloat64("larger")

		a.Record(strings.Join(args, " "))
		err = a.Service().Archive(cmd.Context(), args, froster.ArchiveFlags{
			Recursive:    recursive,
			NoTar:        noTar,
			Force:        force,
			DryRun:       dryRun,
			SmallFileKiB: smallKiB,
			NIHRef:       nih,
			OlderDays:    older,
			NewerDays:    newer,
			UseMtime:     mtime,
			LargerGiB:    larger,
		})
		if err != nil {
			a.Finish(history.StatusFailed, err.Error())
			return err
		}
		a.Finish(history.StatusCompleted, "")
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore FOLDER...",
	Short: "Retrieve archived folders from cold storage, verify and unpack",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "restore")
		if err != nil {
			return err
		}
		defer a.Close()

		days, _ := cmd.Flags().GetInt("days")
		tier, _ := cmd.Flags().GetString("retrieve-opt")
		noDownload, _ := cmd.Flags().GetBool("no-download")
		recursive, _ := cmd.Flags().GetBool("recursive")

		a.Record(strings.Join(args, " "))
		var pendingReady time.Time
		pendingCount := 0
		for _, folder := range args {
			result, err := a.Service().Restore(cmd.Context(), folder, froster.RestoreFlags{
				Days:       days,
				Tier:       froster.RetrievalTier(tier),
				NoDownload: noDownload,
				Recursive:  recursive,
			})
			if err != nil {
				a.Finish(history.StatusFailed, err.Error())
				return err
			}

			if result.Pending {
				pendingCount++
				tally := result.Tally
				fmt.Printf("Glacier retrieval running for %s: %d triggered, %d in progress\n",
					result.Folder, len(tally.Triggered), len(tally.InProgress))
				fmt.Printf("Objects expected between %s and %s\n",
					result.EarliestReady.Local().Format(time.RFC1123),
					result.LatestReady.Local().Format(time.RFC1123))
				if result.EarliestReady.After(pendingReady) {
					pendingReady = result.EarliestReady
				}
				continue
			}
			fmt.Printf("Restore of %s finished: %s\n", result.Folder, result.State)
		}

		if pendingCount == 0 {
			a.Finish(history.StatusCompleted, "")
			return nil
		}

		// One follow-up job re-runs the whole invocation once the last
		// retrieval window opens; folders already downloaded by then
		// come back DONE without touching the remote again.
		a.Finish(history.StatusDeferred, "")
		if submitted, err := submitBatch(cmd, a, "restore", args[0], time.Until(pendingReady)); err != nil {
			return err
		} else if submitted {
			return nil
		}
		fmt.Println("Re-run this command after the retrieval window to download.")
		return errDeferred
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete FOLDER...",
	Short: "Remove verified archived files locally, leaving a tombstone",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "delete")
		if err != nil {
			return err
		}
		defer a.Close()

		recursive, _ := cmd.Flags().GetBool("recursive")

		a.Record(strings.Join(args, " "))
		err = a.Service().Delete(cmd.Context(), args, froster.DeleteFlags{Recursive: recursive})
		if err != nil {
			a.Finish(history.StatusFailed, err.Error())
			return err
		}
		a.Finish(history.StatusCompleted, "")
		return nil
	},
}

// mount / umount commands
var mountCmd = &cobra.Command{
	Use:   "mount FOLDER...",
	Short: "Mount archived folders read-only at their original paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "mount")
		if err != nil {
			return err
		}
		defer a.Close()

		if list, _ := cmd.Flags().GetBool("list"); list {
			return printMounts(a)
		}
		if len(args) == 0 {
			return fmt.Errorf("expected at least one FOLDER argument")
		}
		mountPoint, _ := cmd.Flags().GetString("mount-point")
		if mountPoint != "" && len(args) > 1 {
			return fmt.Errorf("--mount-point accepts a single FOLDER")
		}
		for _, folder := range args {
			if err := a.Service().Mount(cmd.Context(), folder, mountPoint); err != nil {
				return err
			}
			at := mountPoint
			if at == "" {
				at = folder
			}
			fmt.Printf("Mounted at %s (read-only). Unmount with: froster umount %s\n", at, at)
		}
		return nil
	},
}

var umountCmd = &cobra.Command{
	Use:   "umount MOUNTPOINT...",
	Short: "Unmount previously mounted archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "umount")
		if err != nil {
			return err
		}
		defer a.Close()

		if list, _ := cmd.Flags().GetBool("list"); list {
			return printMounts(a)
		}
		if len(args) == 0 {
			return fmt.Errorf("expected at least one MOUNTPOINT argument")
		}
		for _, mountpoint := range args {
			if err := a.Service().Unmount(cmd.Context(), mountpoint); err != nil {
				return err
			}
		}
		return nil
	},
}

func printMounts(a *app.FrosterApp) error {
	mounts, err := a.Service().Mounts()
	if err != nil {
		return err
	}
	if len(mounts) == 0 {
		fmt.Println("No active mounts.")
		return nil
	}
	for _, m := range mounts {
		fmt.Println(m)
	}
	return nil
}

// archived command
var archivedCmd = &cobra.Command{
	Use:   "archived",
	Short: "List catalog entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "archived")
		if err != nil {
			return err
		}
		defer a.Close()

		columns, _ := cmd.Flags().GetStringSlice("columns")
		csvOut, err := a.Archived(columns)
		if err != nil {
			return err
		}
		fmt.Print(csvOut)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newLocalApp(cmd, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, e := range entries {
			duration := ""
			if e.FinishedAt != nil {
				duration = e.FinishedAt.Sub(e.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-10s  %s  %-10s  %s\n",
				e.ID[:8],
				e.Operation,
				e.StartedAt.Format("2006-01-02 15:04:05"),
				e.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("profile", "", "Object store profile to use")
	rootCmd.PersistentFlags().Int("cores", 4, "CPU cores to use for hashing and transfers")
	rootCmd.PersistentFlags().Int("mem", 64, "Memory (GiB) to request for batch jobs")
	rootCmd.PersistentFlags().Bool("no-slurm", false, "Run in the foreground even when a scheduler is available")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	credentialsCmd.Flags().Bool("create-bucket", false, "Create the target bucket if missing")
	rootCmd.AddCommand(credentialsCmd)

	indexCmd.Flags().BoolP("force", "f", false, "Re-scan even when a report from a previous run exists")
	indexCmd.Flags().BoolP("permissions", "p", false, "Show permissions and ownership for each hotspot folder")
	indexCmd.Flags().String("pwalk-copy", "", "Keep a copy of the raw walker output in this directory")
	rootCmd.AddCommand(indexCmd)

	archiveCmd.Flags().BoolP("recursive", "r", false, "Archive each subfolder separately")
	archiveCmd.Flags().Bool("no-tar", false, "Skip packing small files into a tar")
	archiveCmd.Flags().BoolP("force", "f", false, "Reset prior artifacts and re-archive")
	archiveCmd.Flags().BoolP("dry-run", "n", false, "Show what would be archived without uploading")
	archiveCmd.Flags().Bool("reset", false, "Remove local artifacts without archiving")
	archiveCmd.Flags().Int64P("smallfiles", "s", froster.DefaultSmallFileKiB, "Pack files smaller than this many KiB")
	archiveCmd.Flags().Bool("nih", false, "Record an NIH grant reference (requires --nih-ref)")
	archiveCmd.Flags().String("nih-ref", "", "NIH grant or project reference to record")
	archiveCmd.Flags().Int("older", 0, "Only archive folders whose newest file is at least this many days old")
	archiveCmd.Flags().Int("newer", 0, "Only archive folders whose newest file is at most this many days old")
	archiveCmd.Flags().Bool("mtime", false, "Use mtime instead of atime for age filters")
	archiveCmd.Flags().Float64("larger", 0, "Only archive folders of at least this many GiB")
	rootCmd.AddCommand(archiveCmd)

	restoreCmd.Flags().IntP("days", "d", 30, "How many days the restored copy stays readable")
	restoreCmd.Flags().String("retrieve-opt", string(froster.TierBulk), "Retrieval tier: Bulk, Standard or Expedited")
	restoreCmd.Flags().Bool("no-download", false, "Trigger and monitor retrieval but skip the download")
	restoreCmd.Flags().BoolP("recursive", "r", false, "Restore each subfolder as well")
	rootCmd.AddCommand(restoreCmd)

	deleteCmd.Flags().BoolP("recursive", "r", false, "Delete archived files in subfolders as well")
	rootCmd.AddCommand(deleteCmd)

	mountCmd.Flags().String("mount-point", "", "Mount at this path instead of the archived folder itself")
	mountCmd.Flags().BoolP("list", "l", false, "List active mounts")
	rootCmd.AddCommand(mountCmd)
	umountCmd.Flags().BoolP("list", "l", false, "List active mounts")
	rootCmd.AddCommand(umountCmd)

	archivedCmd.Flags().StringSlice("columns", nil, "Catalog columns to print")
	rootCmd.AddCommand(archivedCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(historyCmd)
}
