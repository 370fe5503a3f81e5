// Package app is the application layer between the CLI and the engines.
// It constructs all dependencies from config, exposes high-level
// operations, and manages the log file and history ledger lifecycles.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"froster-go/internal/catalog"
	"froster-go/internal/config"
	"froster-go/internal/froster"
	"froster-go/internal/history"
	"froster-go/internal/index"
	"froster-go/internal/objstore"
	"froster-go/internal/slurm"
)

// HistoryName is the sqlite file holding the operation ledger.
const HistoryName = "froster-history.db"

// Options tune the wiring of one CLI invocation.
type Options struct {
	// Profile overrides profile selection; empty falls back to the
	// FROSTER_PROFILE env var and then the configured default.
	Profile string
	Cores   int
	Debug   bool
	// Console receives user-facing progress output. nil keeps the
	// engines silent.
	Console io.Writer
}

// FrosterApp wires the engines to a configured object-store profile.
// The caller must call Close when done.
type FrosterApp struct {
	cfg     *config.Config
	profile string
	target  froster.Target
	store   froster.ObjectStore
	catalog froster.Catalog
	service *froster.Service
	ledger  *history.Ledger
	indexer *index.Indexer
	batcher *slurm.Batcher
	logger  froster.Logger
	logFile *os.File

	// operation names the CLI command being run; it tags ledger
	// entries and log lines.
	operation string

	// entryID is the in-flight history ledger entry, empty until an
	// operation is recorded.
	entryID string
}

// NewApp creates a fully wired FrosterApp from the given config.
// operation identifies the CLI command being run (e.g. "archive",
// "restore") and tags every log line of the invocation.
func NewApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*FrosterApp, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger.With("operation", operation)}

	a, err := newLocalApp(cfg, operation, log, logFile)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	name, profile, err := cfg.SelectProfile(opts.Profile)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, target, err := objstore.NewFromProfile(ctx, name, *profile, cfg.Tools, froster.UUIDGenerator{}, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating object store session: %w", err)
	}

	cat := catalog.New(filepath.Join(cfg.DataDir, catalog.CatalogName), log)

	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	a.profile = name
	a.target = target
	a.store = store
	a.catalog = cat
	a.service = froster.NewService(store, cat, target, log, froster.RealClock{}, opts.Console, opts.Cores, username)
	return a, nil
}

// NewLocalApp wires only the local pieces (logger, ledger, indexer).
// Commands that never touch the remote, like index, use it so they
// work before any profile is configured.
func NewLocalApp(cfg *config.Config, operation string, opts Options) (*FrosterApp, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return newLocalApp(cfg, operation, &slogAdapter{l: logger.With("operation", operation)}, logFile)
}

func newLocalApp(cfg *config.Config, operation string, log froster.Logger, logFile *os.File) (*FrosterApp, error) {
	ledger, err := history.Open(filepath.Join(cfg.DataDir, HistoryName), froster.UUIDGenerator{}, froster.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("opening history ledger: %w", err)
	}
	return &FrosterApp{
		cfg:       cfg,
		ledger:    ledger,
		indexer:   index.NewIndexer(froster.RealClock{}, log),
		batcher:   slurm.NewBatcher(cfg.Slurm, cfg.LogDir, log),
		logger:    log,
		logFile:   logFile,
		operation: operation,
	}, nil
}

// Service exposes the wired engine service. Nil for local-only apps.
func (a *FrosterApp) Service() *froster.Service { return a.service }

// Target reports the active archive destination.
func (a *FrosterApp) Target() froster.Target { return a.target }

// Profile reports the active profile name.
func (a *FrosterApp) Profile() string { return a.profile }

// Catalog exposes the wired archive catalog. Nil for local-only apps.
func (a *FrosterApp) Catalog() froster.Catalog { return a.catalog }

// Batcher exposes the scheduler bridge.
func (a *FrosterApp) Batcher() *slurm.Batcher { return a.batcher }

// Logger exposes the invocation logger.
func (a *FrosterApp) Logger() froster.Logger { return a.logger }

// Record begins a history ledger entry for this invocation. Ledger
// failures are logged, never fatal: the ledger is an audit trail, not
// operational state.
func (a *FrosterApp) Record(parameters string) {
	id, err := a.ledger.Begin(a.operation, parameters)
	if err != nil {
		a.logger.Warn("history ledger unavailable", "error", err)
		return
	}
	a.entryID = id
}

// Finish completes the in-flight ledger entry with the given status.
func (a *FrosterApp) Finish(status, errText string) {
	if a.entryID == "" {
		return
	}
	if err := a.ledger.Finish(a.entryID, status, errText); err != nil {
		a.logger.Warn("history ledger update failed", "error", err)
	}
	a.entryID = ""
}

// History returns the most recent ledger entries, newest first.
func (a *FrosterApp) History(limit int) ([]history.Entry, error) {
	return a.ledger.List(limit)
}

// IndexFlags carries the per-invocation index options.
type IndexFlags struct {
	// Force re-walks the tree even when a report from a previous run
	// exists.
	Force bool
	// PwalkCopyDir, when set, receives a copy of the raw walker output.
	PwalkCopyDir string
}

// Index walks a folder tree and writes the hotspots report. Without
// Force, an existing report for the same tree is reused as-is.
func (a *FrosterApp) Index(ctx context.Context, folder string, flags IndexFlags) (*index.Result, error) {
	return a.indexer.Run(ctx, index.Options{
		Folder:     folder,
		MinGiB:     a.cfg.Hotspots.MinGiB,
		MinMiBAvg:  a.cfg.Hotspots.MinMiBAvg,
		MaxEntries: a.cfg.Hotspots.MaxEntries,
		PwalkBin:   a.cfg.Tools.Pwalk,
		OutputDir:  filepath.Join(a.cfg.DataDir, "hotspots"),
		RawCopyDir: flags.PwalkCopyDir,
		Force:      flags.Force,
	})
}

// Credentials probes the active profile: bucket existence plus read and
// write access.
func (a *FrosterApp) Credentials(ctx context.Context) (froster.BucketAccess, error) {
	return a.store.HeadBucket(ctx, a.target.Bucket)
}

// EnsureBucket creates the target bucket if missing.
func (a *FrosterApp) EnsureBucket(ctx context.Context) error {
	return a.store.CreateBucket(ctx, a.target.Bucket)
}

// Archived renders the catalog as CSV for the given columns.
func (a *FrosterApp) Archived(columns []string) (string, error) {
	return a.catalog.ToCSV(columns)
}

// Close finalizes any in-flight ledger entry and closes resources.
func (a *FrosterApp) Close() error {
	var firstErr error
	if a.entryID != "" {
		a.Finish(history.StatusFailed, "interrupted")
	}
	if err := a.ledger.Close(); err != nil {
		firstErr = fmt.Errorf("closing history ledger: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
