package froster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DeleteFlags control a Delete invocation.
type DeleteFlags struct {
	Recursive bool
}

// Delete removes the archived payload files from each folder after
// re-verifying them against the remote, then drops a tombstone that
// records where the data went. The froster metadata files and the
// catalog entry are kept: they are what a later restore needs.
func (s *Service) Delete(ctx context.Context, folders []string, flags DeleteFlags) error {
	var failed int
	var lastErr error
	for _, raw := range folders {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUserAbort, err)
		}
		if err := s.deleteFolder(ctx, raw, flags); err != nil {
			s.logger.Error("delete failed", "folder", raw, "error", err)
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("deletion failed for %d of %d folder(s): %w", failed, len(folders), lastErr)
	}
	return nil
}

func (s *Service) deleteFolder(ctx context.Context, raw string, flags DeleteFlags) error {
	folder, err := CanonicalFolder(raw)
	if err != nil {
		return err
	}
	s.phase("DELETING %s", folder)

	rec, err := s.catalog.Get(folder)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotArchived, folder)
	}

	dirs, err := subfolders(folder, flags.Recursive)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUserAbort, err)
		}
		if err := s.deleteOne(ctx, dir, rec); err != nil {
			return err
		}
	}
	s.logger.Info("delete complete", "folder", folder, "archive", rec.ArchiveFolder)
	return nil
}

// deleteOne verifies and deletes the payload of a single directory.
func (s *Service) deleteOne(ctx context.Context, dir string, rec *Record) error {
	hashPath := filepath.Join(dir, HashFileName)
	if !fileExists(hashPath) {
		// A folder restored and re-deleted carries restore-time hashes.
		hashPath = filepath.Join(dir, RestoredHashFileName)
	}
	if !fileExists(hashPath) {
		if fileExists(filepath.Join(dir, TombstoneName)) {
			s.step("%s: already deleted", dir)
			return nil
		}
		if !fileExists(filepath.Join(dir, ManifestName)) {
			// Never archived (e.g. an empty intermediate directory).
			return nil
		}
		return fmt.Errorf("%w: %s has no hash file; archive it before deleting", ErrLocalFS, dir)
	}

	dst := SubPrefix(rec.ArchiveFolder, rec.LocalFolder, dir)

	s.step("Verifying %s against %s ...", dir, dst)
	ok, err := s.store.Checksum(ctx, hashPath, dst, ChecksumOptions{MaxDepth: 1})
	if err != nil {
		return fmt.Errorf("verifying %s: %w", dir, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s does not match %s; refusing to delete", ErrVerification, dir, dst)
	}

	targets, err := s.deleteTargets(dir, hashPath)
	if err != nil {
		return err
	}

	s.step("Removing %d file(s) ...", len(targets))
	var deleted []string
	for _, name := range targets {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("%w: removing %s: %v", ErrLocalFS, path, err)
		}
		deleted = append(deleted, name)
	}

	if err := s.writeTombstone(dir, dst, rec, targets, deleted); err != nil {
		return err
	}
	s.logger.Info("payload deleted", "folder", dir, "files", len(deleted))
	return nil
}

// deleteTargets collects the names to unlink: files listed in the hash
// file (the manifest CSV never appears there), members of the
// small-files tar when it exists, and manifest rows marked Tarred=Yes.
// The manifest is authoritative; the tar member list only adds.
func (s *Service) deleteTargets(dir, hashPath string) ([]string, error) {
	set := make(map[string]struct{})

	hashes, err := ReadHashFile(hashPath)
	if err != nil {
		return nil, err
	}
	for _, h := range hashes {
		if h.Name == ManifestName {
			continue
		}
		set[h.Name] = struct{}{}
	}

	members, err := TarMembers(filepath.Join(dir, TarName))
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		set[m] = struct{}{}
	}

	manifestPath := filepath.Join(dir, ManifestName)
	if fileExists(manifestPath) {
		entries, err := ReadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		for _, name := range TarredNames(entries) {
			set[name] = struct{}{}
		}
	}

	targets := make([]string, 0, len(set))
	for name := range set {
		if IsMetadataFile(name) {
			continue
		}
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets, nil
}

// writeTombstone records where the files went. Its presence is the
// proof that deletion was verified first.
func (s *Service) writeTombstone(dir, dst string, rec *Record, archived, deleted []string) error {
	catalogID, err := Md5String(s.catalog.Path())
	if err != nil {
		return fmt.Errorf("hashing catalog path: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The files in this folder have been moved to an archive!\n\n")
	fmt.Fprintf(&b, "Archive location: %s\n", dst)
	fmt.Fprintf(&b, "Provider: %s\n", rec.Provider)
	fmt.Fprintf(&b, "Endpoint: %s\n", rec.Endpoint)
	fmt.Fprintf(&b, "Region: %s\n", rec.Region)
	fmt.Fprintf(&b, "Storage class: %s\n", rec.StorageClass)
	fmt.Fprintf(&b, "Archive mode: %s\n", rec.ArchiveMode)
	fmt.Fprintf(&b, "Archiver: %s\n", rec.User)
	fmt.Fprintf(&b, "Archive catalog: %s (id %s)\n", s.catalog.Path(), catalogID)
	fmt.Fprintf(&b, "Restore command: froster restore %q\n", dir)
	fmt.Fprintf(&b, "Deletion date: %s\n", s.clock.Now().UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "\nFirst 10 files archived:\n")
	for i, name := range archived {
		if i == 10 {
			break
		}
		fmt.Fprintf(&b, "  %s\n", name)
	}
	fmt.Fprintf(&b, "\nFirst 10 files deleted this time:\n")
	for i, name := range deleted {
		if i == 10 {
			break
		}
		fmt.Fprintf(&b, "  %s\n", name)
	}
	fmt.Fprintf(&b, "\nSee %s for the full list of files and metadata.\n", ManifestName)

	path := filepath.Join(dir, TombstoneName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("%w: writing tombstone: %v", ErrLocalFS, err)
	}
	return nil
}
