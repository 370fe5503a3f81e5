package froster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveFlags control a single Archive invocation.
type ArchiveFlags struct {
	Recursive    bool
	NoTar        bool  // emit the manifest but pack nothing
	Force        bool  // reset prior artifacts and re-archive
	DryRun       bool  // preflight and plan only, no uploads
	SmallFileKiB int64 // pack threshold; <= 0 uses DefaultSmallFileKiB
	NIHRef       string

	// OlderDays / NewerDays skip folders whose newest file falls
	// outside the window. UseMtime switches the age check from atime
	// to mtime. LargerGiB skips folders below a size floor.
	OlderDays int
	NewerDays int
	UseMtime  bool
	LargerGiB float64
}

// DefaultSmallFileKiB is the default pack threshold: files below 1 MiB
// go into the small-files tar.
const DefaultSmallFileKiB = 1024

// Archive runs the archive pipeline for each folder. Folders are
// processed one at a time, end to end; a failure aborts that folder
// and moves on to the next. Ancestor/descendant pairs in the folder
// list are rejected up front before anything is mutated.
func (s *Service) Archive(ctx context.Context, folders []string, flags ArchiveFlags) error {
	if flags.SmallFileKiB <= 0 {
		flags.SmallFileKiB = DefaultSmallFileKiB
	}

	canon := make([]string, 0, len(folders))
	for _, f := range folders {
		c, err := CanonicalFolder(f)
		if err != nil {
			return err
		}
		canon = append(canon, c)
	}
	if err := CheckOverlap(canon); err != nil {
		return err
	}

	var failed int
	var lastErr error
	for _, folder := range canon {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUserAbort, err)
		}
		if err := s.archiveFolder(ctx, folder, flags); err != nil {
			s.logger.Error("archive failed", "folder", folder, "error", err)
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("archiving failed for %d of %d folder(s): %w", failed, len(canon), lastErr)
	}
	return nil
}

// archiveFolder runs preflight plus the per-folder pipeline, walking
// the subtree when recursive. Only the root folder receives a catalog
// entry; in recursive mode its record shadows every descendant.
func (s *Service) archiveFolder(ctx context.Context, folder string, flags ArchiveFlags) error {
	s.phase("ARCHIVING %s", folder)

	if err := s.preflight(ctx, folder, flags); err != nil {
		return err
	}
	if skip, reason := s.filteredOut(folder, flags); skip {
		s.step("Skipping: %s", reason)
		s.logger.Info("folder filtered out", "folder", folder, "reason", reason)
		return nil
	}

	dirs, err := subfolders(folder, flags.Recursive)
	if err != nil {
		return err
	}

	if flags.DryRun {
		for _, dir := range dirs {
			s.step("Would archive %s to %s", dir, SubPrefix(s.target.ArchiveFolderURL(folder), folder, dir))
		}
		return nil
	}

	archivedAny := false
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUserAbort, err)
		}
		dst := SubPrefix(s.target.ArchiveFolderURL(folder), folder, dir)
		ran, err := s.runPipeline(ctx, dir, dst, flags)
		if err != nil {
			return err
		}
		archivedAny = archivedAny || ran
	}
	if !archivedAny {
		s.step("Nothing to archive")
		return nil
	}

	mode := ModeSingle
	if flags.Recursive {
		mode = ModeRecursive
	}
	now := s.clock.Now().UTC().Format(time.RFC3339)
	rec := Record{
		LocalFolder:      folder,
		ArchiveFolder:    s.target.ArchiveFolderURL(folder),
		StorageClass:     string(s.target.StorageClass),
		Profile:          s.target.Profile,
		Provider:         s.target.Provider,
		Endpoint:         s.target.Endpoint,
		Region:           s.target.Region,
		ArchiveMode:      mode,
		Timestamp:        now,
		TimestampArchive: now,
		User:             s.user,
		NIHProject:       flags.NIHRef,
	}
	if err := s.catalog.Put(folder, rec); err != nil {
		return fmt.Errorf("writing catalog entry: %w", err)
	}

	s.step("Catalog updated")
	s.summary(rec)
	s.logger.Info("archive complete", "folder", folder, "destination", rec.ArchiveFolder, "mode", string(mode))
	return nil
}

// preflight enforces the already-archived rules and, with force,
// resets prior artifacts. It also verifies the caller can read every
// regular file in the subtree to be archived.
func (s *Service) preflight(ctx context.Context, folder string, flags ArchiveFlags) error {
	hashPath := filepath.Join(folder, HashFileName)
	if fileExists(hashPath) && !flags.Force {
		rec, err := s.catalog.Get(folder)
		if err != nil {
			return err
		}
		if rec != nil {
			dst := SubPrefix(rec.ArchiveFolder, rec.LocalFolder, folder)
			ok, err := s.store.Checksum(ctx, hashPath, dst, ChecksumOptions{MaxDepth: 1})
			if err == nil && ok {
				return fmt.Errorf("%w: %s is already archived and verified at %s", ErrConflict, folder, dst)
			}
			return fmt.Errorf("%w: %s has a prior archive attempt that does not match the remote; re-run with --force", ErrConflict, folder)
		}
		return fmt.Errorf("%w: %s has a hash file but no catalog entry; re-run with --force", ErrConflict, folder)
	}

	if flags.Force {
		dirs, err := subfolders(folder, flags.Recursive)
		if err != nil {
			return err
		}
		for _, dir := range dirs {
			if err := s.ResetFolder(dir); err != nil {
				return err
			}
		}
	}

	dirs, err := subfolders(folder, flags.Recursive)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		names, err := regularFiles(dir)
		if err != nil {
			return err
		}
		for _, name := range names {
			if !readable(filepath.Join(dir, name)) {
				return fmt.Errorf("%w: cannot read %s", ErrLocalFS, filepath.Join(dir, name))
			}
		}
	}
	return nil
}

// runPipeline executes pack → hash → upload → verify for one folder.
// Returns false without error when the folder has no regular files.
func (s *Service) runPipeline(ctx context.Context, folder, dst string, flags ArchiveFlags) (bool, error) {
	names, err := regularFiles(folder)
	if err != nil {
		return false, err
	}
	payload := 0
	for _, n := range names {
		if !IsMetadataFile(n) {
			payload++
		}
	}
	if payload == 0 {
		s.logger.Debug("no regular files, skipping", "folder", folder)
		return false, nil
	}

	// A hash file marks a prior archive of this directory, possibly one
	// done separately from the current root. Packing again would
	// truncate its tar and destroy the originals inside, so every
	// directory gets the conflict gate, not just the requested root.
	if fileExists(filepath.Join(folder, HashFileName)) && !flags.Force {
		return false, fmt.Errorf("%w: %s is already archived; re-run with --force", ErrConflict, folder)
	}

	threshold := flags.SmallFileKiB
	if flags.NoTar {
		threshold = 0
	}
	s.step("Packing small files  ...")
	if _, err := Pack(folder, threshold, s.logger); err != nil {
		return false, fmt.Errorf("packing %s: %w", folder, err)
	}

	s.step("Hashing files        ...")
	if _, err := HashFolder(folder, HashFileName, HashWorkers(s.cores), s.logger); err != nil {
		return false, fmt.Errorf("hashing %s: %w", folder, err)
	}

	s.step("Uploading manifest   ...")
	manifest := filepath.Join(folder, ManifestName)
	stats, err := s.store.Copy(ctx, manifest, dst, CopyOptions{
		MaxDepth:     1,
		StorageClass: s.target.HotClass,
	})
	if err != nil {
		return false, fmt.Errorf("uploading manifest for %s: %w", folder, err)
	}
	if stats.Errors > 0 {
		return false, fmt.Errorf("%w: manifest upload: %s", ErrRemoteFailed, stats.LastError)
	}

	s.step("Uploading files      ...")
	stats, err = s.store.Copy(ctx, folder, dst, CopyOptions{
		MaxDepth:     1,
		Links:        true,
		Excludes:     MetadataExcludes(),
		StorageClass: s.target.StorageClass,
	})
	if err != nil {
		return false, fmt.Errorf("uploading %s: %w", folder, err)
	}
	if stats.Errors > 0 {
		return false, fmt.Errorf("%w: upload: %s", ErrRemoteFailed, stats.LastError)
	}

	s.step("Verifying checksums  ...")
	ok, err := s.store.Checksum(ctx, filepath.Join(folder, HashFileName), dst, ChecksumOptions{MaxDepth: 1})
	if err != nil {
		return false, fmt.Errorf("verifying %s: %w", folder, err)
	}
	if !ok {
		return false, fmt.Errorf("%w: %s does not match %s", ErrVerification, folder, dst)
	}

	s.logger.Info("folder uploaded and verified", "folder", folder, "destination", dst,
		"transfers", stats.Transfers, "bytes", stats.Bytes)
	return true, nil
}

// ResetFolder removes prior froster artifacts from a folder and
// re-expands the small-files tar so a forced re-archive starts from
// the original content.
func (s *Service) ResetFolder(folder string) error {
	if err := Unpack(folder, s.logger); err != nil {
		return fmt.Errorf("re-expanding tar in %s: %w", folder, err)
	}
	for _, name := range []string{ManifestName, HashFileName, RestoredHashFileName, TombstoneName} {
		path := filepath.Join(folder, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: removing %s: %v", ErrLocalFS, path, err)
		}
	}
	s.logger.Info("folder reset", "folder", folder)
	return nil
}

// Reset removes froster artifacts from the given folders without
// archiving. The CLI surfaces this as archive --reset.
func (s *Service) Reset(folders []string, recursive bool) error {
	for _, f := range folders {
		folder, err := CanonicalFolder(f)
		if err != nil {
			return err
		}
		dirs, err := subfolders(folder, recursive)
		if err != nil {
			return err
		}
		for _, dir := range dirs {
			if err := s.ResetFolder(dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// filteredOut applies the age and size filters to a folder. The age
// check looks at the newest direct child, matching how hotspots are
// reported.
func (s *Service) filteredOut(folder string, flags ArchiveFlags) (bool, string) {
	if flags.OlderDays == 0 && flags.NewerDays == 0 && flags.LargerGiB == 0 {
		return false, ""
	}

	names, err := regularFiles(folder)
	if err != nil || len(names) == 0 {
		return false, ""
	}

	var newest time.Time
	var totalBytes int64
	for _, name := range names {
		info, err := os.Lstat(filepath.Join(folder, name))
		if err != nil {
			continue
		}
		totalBytes += info.Size()
		t := info.ModTime()
		if !flags.UseMtime {
			atime, _, _ := statTimes(info)
			t = atime
		}
		if t.After(newest) {
			newest = t
		}
	}

	ageDays := int(s.clock.Now().Sub(newest).Hours() / 24)
	if flags.OlderDays > 0 && ageDays < flags.OlderDays {
		return true, fmt.Sprintf("newest file is %d day(s) old, need %d", ageDays, flags.OlderDays)
	}
	if flags.NewerDays > 0 && ageDays > flags.NewerDays {
		return true, fmt.Sprintf("newest file is %d day(s) old, limit %d", ageDays, flags.NewerDays)
	}
	if flags.LargerGiB > 0 {
		gib := float64(totalBytes) / (1 << 30)
		if gib < flags.LargerGiB {
			return true, fmt.Sprintf("folder holds %.2f GiB, need %.2f", gib, flags.LargerGiB)
		}
	}
	return false, ""
}

// summary prints the end-of-operation source/destination block.
func (s *Service) summary(rec Record) {
	s.phase("")
	s.phase("Source    : %s", rec.LocalFolder)
	s.phase("Target    : %s", rec.ArchiveFolder)
	s.phase("Provider  : %s (profile %s, endpoint %s, region %s)",
		rec.Provider, rec.Profile, rec.Endpoint, rec.Region)
	s.phase("Class     : %s", rec.StorageClass)
}
