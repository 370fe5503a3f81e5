package froster

import (
	"context"
	"fmt"
	"path/filepath"
)

// Mount attaches a folder's archive prefix read-only at mountpoint.
// An empty mountpoint mounts over the original folder, which exists
// as a mostly empty directory once Delete has run. Refuses when the
// mountpoint already carries a froster mount.
func (s *Service) Mount(ctx context.Context, rawFolder, mountpoint string) error {
	folder, err := CanonicalFolder(rawFolder)
	if err != nil {
		return err
	}

	rec, err := s.catalog.Get(folder)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotArchived, folder)
	}

	if mountpoint == "" {
		mountpoint = folder
	} else {
		mountpoint, err = CanonicalFolder(mountpoint)
		if err != nil {
			return err
		}
	}

	mounts, err := s.store.ListMounts()
	if err != nil {
		return fmt.Errorf("reading mount table: %w", err)
	}
	for _, m := range mounts {
		if m == mountpoint {
			return fmt.Errorf("%w: %s is already a froster mount", ErrConflict, mountpoint)
		}
	}

	dst := SubPrefix(rec.ArchiveFolder, rec.LocalFolder, folder)
	s.phase("MOUNTING %s at %s", dst, mountpoint)
	if err := s.store.Mount(ctx, dst, mountpoint); err != nil {
		return fmt.Errorf("mounting %s: %w", dst, err)
	}
	s.logger.Info("mount launched", "source", dst, "mountpoint", mountpoint)
	return nil
}

// Unmount detaches a froster mount. Unmounting a path that is not
// mounted is reported and succeeds, so repeated invocations are safe.
func (s *Service) Unmount(ctx context.Context, rawPath string) error {
	path, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", ErrLocalFS, rawPath, err)
	}

	mounts, err := s.store.ListMounts()
	if err != nil {
		return fmt.Errorf("reading mount table: %w", err)
	}
	mounted := false
	for _, m := range mounts {
		if m == path {
			mounted = true
			break
		}
	}
	if !mounted {
		s.phase("%s is not mounted", path)
		return nil
	}

	s.phase("UNMOUNTING %s", path)
	if err := s.store.Unmount(ctx, path); err != nil {
		return fmt.Errorf("unmounting %s: %w", path, err)
	}
	s.logger.Info("unmounted", "mountpoint", path)
	return nil
}

// Mounts lists the live froster mount points.
func (s *Service) Mounts() ([]string, error) {
	return s.store.ListMounts()
}
