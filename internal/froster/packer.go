package froster

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// PackResult reports what the packer did to a folder.
type PackResult struct {
	Entries []ManifestEntry
	Packed  []string // basenames appended to the tar and unlinked
}

// Pack builds Froster.allfiles.csv for the direct children of folder.
// When thresholdKiB > 0, regular files smaller than the threshold are
// appended to Froster.smallfiles.tar and the originals unlinked,
// provided the caller can actually unlink them. Symlinks are recorded
// but never followed or tarred; unreadable files are skipped with a
// warning and do not enter the manifest.
func Pack(folder string, thresholdKiB int64, logger Logger) (*PackResult, error) {
	dirents, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("reading folder: %w", err)
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name() < dirents[j].Name() })

	canUnlink := writableDir(folder)
	thresholdBytes := thresholdKiB * 1024

	var (
		result  PackResult
		tw      *tar.Writer
		tf      *os.File
		tarPath = filepath.Join(folder, TarName)
	)
	closeTar := func() error {
		if tw == nil {
			return nil
		}
		if err := tw.Close(); err != nil {
			tf.Close()
			return err
		}
		return tf.Close()
	}

	for _, d := range dirents {
		name := d.Name()
		if name == TarName || IsMetadataFile(name) {
			continue
		}
		path := filepath.Join(folder, name)

		info, err := os.Lstat(path)
		if err != nil {
			logger.Warn("skipping unreadable entry", "path", path, "error", err)
			continue
		}

		mode := info.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			// Recorded, never followed.
			atime, owner, group := statTimes(info)
			result.Entries = append(result.Entries, ManifestEntry{
				Name:        name,
				Size:        info.Size(),
				ModTime:     info.ModTime(),
				AccTime:     atime,
				Owner:       owner,
				Group:       group,
				Permissions: mode.String(),
			})
			continue
		case !mode.IsRegular():
			continue
		}

		if !readable(path) {
			logger.Warn("skipping unreadable file", "path", path)
			continue
		}

		atime, owner, group := statTimes(info)
		entry := ManifestEntry{
			Name:        name,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			AccTime:     atime,
			Owner:       owner,
			Group:       group,
			Permissions: mode.Perm().String(),
		}

		if thresholdKiB > 0 && info.Size() < thresholdBytes && canUnlink {
			if tw == nil {
				tf, err = os.Create(tarPath)
				if err != nil {
					return nil, fmt.Errorf("creating tar: %w", err)
				}
				tw = tar.NewWriter(tf)
			}
			if err := appendToTar(tw, path, name, info); err != nil {
				closeTar()
				return nil, fmt.Errorf("packing %s: %w", name, err)
			}
			entry.Tarred = true
			result.Packed = append(result.Packed, name)
		}

		result.Entries = append(result.Entries, entry)
	}

	if err := closeTar(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}

	// Unlink originals only once the tar is safely on disk.
	for _, name := range result.Packed {
		if err := os.Remove(filepath.Join(folder, name)); err != nil {
			return nil, fmt.Errorf("%w: removing packed file %s: %v", ErrLocalFS, name, err)
		}
	}

	if err := WriteManifest(folder, result.Entries); err != nil {
		return nil, err
	}
	return &result, nil
}

// appendToTar stores one file in the tar under its basename, with no
// leading path components.
func appendToTar(tw *tar.Writer, path, name string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return nil
}

// TarMembers returns the basenames stored in a froster small-files tar.
// A missing tar yields an empty list.
func TarMembers(tarPath string) ([]string, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening tar: %w", err)
	}
	defer f.Close()

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar index: %w", err)
		}
		names = append(names, filepath.Base(hdr.Name))
	}
	return names, nil
}

// Unpack extracts a froster small-files tar into folder and removes the
// tar afterwards. Members that already exist on disk are skipped, which
// makes re-running a restore a no-op.
func Unpack(folder string, logger Logger) error {
	tarPath := filepath.Join(folder, TarName)
	f, err := os.Open(tarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening tar: %w", err)
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return fmt.Errorf("reading tar: %w", err)
		}
		name := filepath.Base(hdr.Name)
		dest := filepath.Join(folder, name)

		if _, err := os.Lstat(dest); err == nil {
			logger.Debug("already extracted", "file", name)
			continue
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			f.Close()
			return fmt.Errorf("extracting %s: %w", name, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			f.Close()
			return fmt.Errorf("extracting %s: %w", name, err)
		}
		if err := out.Close(); err != nil {
			f.Close()
			return fmt.Errorf("extracting %s: %w", name, err)
		}
		os.Chtimes(dest, hdr.AccessTime, hdr.ModTime)
	}
	f.Close()

	if err := os.Remove(tarPath); err != nil {
		return fmt.Errorf("removing tar after unpack: %w", err)
	}
	return nil
}
