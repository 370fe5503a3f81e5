package froster

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// manifestHeader is the stable on-disk column order of Froster.allfiles.csv.
var manifestHeader = []string{
	"File", "Size(bytes)", "Date-Modified", "Date-Accessed",
	"Owner", "Group", "Permissions", "Tarred",
}

const manifestTimeFormat = "2006-01-02T15:04:05"

// ManifestEntry is one row of the per-folder manifest: a regular file
// or symlink directly inside the folder at archive time.
type ManifestEntry struct {
	Name        string
	Size        int64
	ModTime     time.Time
	AccTime     time.Time
	Owner       string
	Group       string
	Permissions string
	Tarred      bool
}

// WriteManifest writes entries to Froster.allfiles.csv inside folder.
func WriteManifest(folder string, entries []ManifestEntry) error {
	path := filepath.Join(folder, ManifestName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		return fmt.Errorf("writing manifest header: %w", err)
	}
	for _, e := range entries {
		tarred := "No"
		if e.Tarred {
			tarred = "Yes"
		}
		row := []string{
			e.Name,
			fmt.Sprintf("%d", e.Size),
			e.ModTime.Format(manifestTimeFormat),
			e.AccTime.Format(manifestTimeFormat),
			e.Owner,
			e.Group,
			e.Permissions,
			tarred,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing manifest row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing manifest: %w", err)
	}
	return nil
}

// ReadManifest parses a Froster.allfiles.csv file.
func ReadManifest(path string) ([]ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(manifestHeader)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	entries := make([]ManifestEntry, 0, len(rows)-1)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		var size int64
		fmt.Sscanf(row[1], "%d", &size)
		mod, _ := time.ParseInLocation(manifestTimeFormat, row[2], time.Local)
		acc, _ := time.ParseInLocation(manifestTimeFormat, row[3], time.Local)
		entries = append(entries, ManifestEntry{
			Name:        row[0],
			Size:        size,
			ModTime:     mod,
			AccTime:     acc,
			Owner:       row[4],
			Group:       row[5],
			Permissions: row[6],
			Tarred:      row[7] == "Yes",
		})
	}
	return entries, nil
}

// TarredNames returns the manifest entries marked Tarred=Yes.
func TarredNames(entries []ManifestEntry) []string {
	var names []string
	for _, e := range entries {
		if e.Tarred {
			names = append(names, e.Name)
		}
	}
	return names
}
