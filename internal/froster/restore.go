package froster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RestoreState names a position in the per-folder restore state
// machine. The state is fully derivable from the filesystem, the
// record's storage class, and the remote restore status; nothing is
// persisted separately, which is what makes re-invocation safe.
type RestoreState string

const (
	StateUnregistered RestoreState = "UNREGISTERED"
	StateCheckingTier RestoreState = "CHECKING_TIER"
	StateTriggering   RestoreState = "TRIGGERING"
	StateAwaitingCold RestoreState = "AWAITING_COLD"
	StateReady        RestoreState = "READY"
	StateDownloading  RestoreState = "DOWNLOADING"
	StateVerifying    RestoreState = "VERIFYING"
	StateUnpacking    RestoreState = "UNPACKING"
	StateDone         RestoreState = "DONE"

	StateFailedTier     RestoreState = "FAILED_TIER"
	StateFailedDownload RestoreState = "FAILED_DOWNLOAD"
	StateFailedVerify   RestoreState = "FAILED_VERIFY"
)

// RestoreFlags control a Restore invocation.
type RestoreFlags struct {
	Days       int // how long the restored copy stays readable
	Tier       RetrievalTier
	NoDownload bool
	Recursive  bool
}

// RestoreResult reports where a folder's restore lifecycle stands
// after one invocation.
type RestoreResult struct {
	Folder string
	State  RestoreState

	// Pending is set when cold-tier retrieval is still running; the
	// caller should re-invoke after EarliestReady (the CLI schedules
	// this as a delayed batch job).
	Pending       bool
	Tally         RestoreTally
	EarliestReady time.Time
	LatestReady   time.Time
}

// retrievalWindow returns the earliest and latest expected completion
// for a cold retrieval tier.
func retrievalWindow(tier RetrievalTier, from time.Time) (earliest, latest time.Time) {
	switch tier {
	case TierExpedited:
		return from.Add(1 * time.Minute), from.Add(5 * time.Minute)
	case TierStandard:
		return from.Add(3 * time.Hour), from.Add(12 * time.Hour)
	default: // Bulk
		return from.Add(5 * time.Hour), from.Add(48 * time.Hour)
	}
}

// Restore advances the restore state machine for folder as far as it
// can in one invocation. When the archive sits in a cold tier the
// first call triggers retrieval and returns a pending result; calling
// again after the retrieval window advances to download, verify, and
// unpack. Running Restore on an already restored folder is a no-op
// that reports DONE.
func (s *Service) Restore(ctx context.Context, rawFolder string, flags RestoreFlags) (*RestoreResult, error) {
	folder, err := CanonicalFolder(rawFolder)
	if err != nil {
		return nil, err
	}
	res := &RestoreResult{Folder: folder, State: StateUnregistered}

	s.phase("RESTORING %s", folder)

	rec, err := s.catalog.Get(folder)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return res, fmt.Errorf("%w: %s", ErrNotArchived, folder)
	}
	dst := SubPrefix(rec.ArchiveFolder, rec.LocalFolder, folder)

	// A folder already restored end to end stays DONE without touching
	// the remote; re-triggering retrieval after the restored copy
	// expires would cost a fresh thaw for nothing.
	if done, err := s.alreadyRestored(folder, flags.Recursive); err != nil {
		return res, err
	} else if done {
		res.State = StateDone
		s.step("Already restored; nothing to do")
		return res, nil
	}

	res.State = StateCheckingTier
	if StorageClass(rec.StorageClass).Cold() {
		s.step("Checking cold-tier retrieval ...")
		bucket, key := BucketAndKey(dst)
		tally, err := s.store.RestoreObjects(ctx, bucket, key, flags.Days, flags.Tier)
		if err != nil {
			res.State = StateFailedTier
			return res, fmt.Errorf("triggering retrieval for %s: %w", folder, err)
		}
		res.Tally = tally
		if tally.Pending() {
			if len(tally.Triggered) > 0 {
				res.State = StateTriggering
			} else {
				res.State = StateAwaitingCold
			}
			res.Pending = true
			res.EarliestReady, res.LatestReady = retrievalWindow(flags.Tier, s.clock.Now())
			s.step("Retrieval pending: %d triggered, %d in progress, %d ready",
				len(tally.Triggered), len(tally.InProgress), len(tally.Completed))
			s.logger.Info("cold retrieval pending", "folder", folder,
				"triggered", len(tally.Triggered), "in_progress", len(tally.InProgress),
				"completed", len(tally.Completed), "earliest_ready", res.EarliestReady)
			return res, nil
		}
	}

	res.State = StateReady
	if flags.NoDownload {
		s.step("Objects are ready; skipping download as requested")
		return res, nil
	}

	res.State = StateDownloading
	s.step("Downloading files    ...")
	depth := 1
	if flags.Recursive {
		depth = 0
	}
	stats, err := s.store.Copy(ctx, dst, folder, CopyOptions{MaxDepth: depth, Links: true})
	if err != nil {
		res.State = StateFailedDownload
		return res, fmt.Errorf("downloading %s: %w", folder, err)
	}
	if stats.Errors > 0 {
		res.State = StateFailedDownload
		return res, fmt.Errorf("%w: download: %s", ErrRemoteFailed, stats.LastError)
	}

	dirs, err := subfolders(folder, flags.Recursive)
	if err != nil {
		return res, err
	}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %v", ErrUserAbort, err)
		}
		subDst := SubPrefix(rec.ArchiveFolder, rec.LocalFolder, dir)
		if err := s.verifyAndUnpack(ctx, dir, subDst, res); err != nil {
			return res, err
		}
	}

	res.State = StateDone
	s.step("Restore complete")
	s.logger.Info("restore complete", "folder", folder, "source", dst)
	return res, nil
}

// alreadyRestored reports whether every folder in the tree carries a
// completed restore: a restore-time hash file with the tar expanded
// and no tombstone left behind. This is what makes a second Restore
// invocation on a DONE folder a no-op.
func (s *Service) alreadyRestored(folder string, recursive bool) (bool, error) {
	dirs, err := subfolders(folder, recursive)
	if err != nil {
		return false, err
	}
	any := false
	for _, dir := range dirs {
		if !fileExists(filepath.Join(dir, HashFileName)) {
			continue // never archived
		}
		any = true
		if !fileExists(filepath.Join(dir, RestoredHashFileName)) {
			return false, nil
		}
		if fileExists(filepath.Join(dir, TarName)) || fileExists(filepath.Join(dir, TombstoneName)) {
			return false, nil
		}
	}
	return any, nil
}

// verifyAndUnpack regenerates restore-time hashes, compares them to
// the remote prefix, then expands the small-files tar and drops the
// tombstone. A folder with nothing restorable is skipped.
func (s *Service) verifyAndUnpack(ctx context.Context, dir, dst string, res *RestoreResult) error {
	names, err := regularFiles(dir)
	if err != nil {
		return err
	}
	payload := 0
	for _, n := range names {
		if !IsMetadataFile(n) {
			payload++
		}
	}
	if payload == 0 {
		return nil
	}
	if fileExists(filepath.Join(dir, RestoredHashFileName)) &&
		!fileExists(filepath.Join(dir, TarName)) &&
		!fileExists(filepath.Join(dir, TombstoneName)) {
		s.logger.Debug("already verified and unpacked", "folder", dir)
		return nil
	}

	res.State = StateVerifying
	s.step("Verifying %s ...", dir)
	if _, err := HashFolder(dir, RestoredHashFileName, HashWorkers(s.cores), s.logger); err != nil {
		res.State = StateFailedVerify
		return fmt.Errorf("hashing restored %s: %w", dir, err)
	}
	ok, err := s.store.Checksum(ctx, filepath.Join(dir, RestoredHashFileName), dst, ChecksumOptions{MaxDepth: 1})
	if err != nil {
		res.State = StateFailedVerify
		return fmt.Errorf("verifying restored %s: %w", dir, err)
	}
	if !ok {
		res.State = StateFailedVerify
		return fmt.Errorf("%w: restored %s does not match %s", ErrVerification, dir, dst)
	}

	res.State = StateUnpacking
	if err := Unpack(dir, s.logger); err != nil {
		return fmt.Errorf("unpacking %s: %w", dir, err)
	}
	tombstone := filepath.Join(dir, TombstoneName)
	if fileExists(tombstone) {
		if err := os.Remove(tombstone); err != nil {
			return fmt.Errorf("%w: removing tombstone: %v", ErrLocalFS, err)
		}
	}
	return nil
}
