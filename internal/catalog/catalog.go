// Package catalog implements the durable JSON archive catalog:
// froster-archives.json, keyed by canonical local folder path.
package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"froster-go/internal/froster"
)

// CatalogName is the catalog file name inside the data directory.
const CatalogName = "froster-archives.json"

// errMalformed marks a catalog file that exists but does not parse.
// Reads degrade to "no entry"; writes refuse to clobber it.
var errMalformed = errors.New("malformed catalog")

// JSONCatalog stores records in a single JSON object on disk. Writers
// take an exclusive advisory lock on the file so cooperating users in
// a shared data directory never lose updates.
type JSONCatalog struct {
	path   string
	logger froster.Logger
}

// New creates a catalog backed by the file at path. The parent
// directory is created group-writable on first Put, which is what a
// shared setgid data directory needs.
func New(path string, logger froster.Logger) *JSONCatalog {
	return &JSONCatalog{path: path, logger: logger}
}

// Path returns the catalog file location.
func (c *JSONCatalog) Path() string { return c.path }

// load reads and parses the catalog. A missing file is an empty
// catalog; a malformed file is reported and treated as "no entry"
// without being rewritten.
func (c *JSONCatalog) load() (map[string]froster.Record, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]froster.Record{}, nil
		}
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	records := map[string]froster.Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		c.logger.Warn("catalog file is malformed, treating as empty", "path", c.path, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", errMalformed, c.path, err)
	}
	return records, nil
}

// Put inserts or replaces the record for localFolder using a locked
// read-modify-write. A malformed catalog fails the Put rather than
// being overwritten.
func (c *JSONCatalog) Put(localFolder string, rec froster.Record) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0775); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}

	lock, err := os.OpenFile(c.path+".lock", os.O_CREATE|os.O_RDWR, 0664)
	if err != nil {
		return fmt.Errorf("opening catalog lock: %w", err)
	}
	defer lock.Close()
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking catalog: %w", err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	records, err := c.load()
	if err != nil {
		return err
	}
	records[localFolder] = rec

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	data = append(data, '\n')

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0664); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}

// Get returns the record for queryPath: an exact match when present,
// otherwise the nearest ancestor whose archive mode is Recursive.
// Returns nil when the path is not archived. Lookups on a malformed
// catalog warn and report "no entry".
func (c *JSONCatalog) Get(queryPath string) (*froster.Record, error) {
	records, err := c.load()
	if err != nil {
		if errors.Is(err, errMalformed) {
			// Surfaced as a warning in load; reads degrade to
			// "not archived".
			return nil, nil
		}
		return nil, err
	}

	query := strings.TrimSuffix(queryPath, string(filepath.Separator))
	if query == "" {
		query = string(filepath.Separator)
	}

	if rec, ok := records[query]; ok {
		return &rec, nil
	}

	// Walk ancestors, nearest first.
	for dir := filepath.Dir(query); ; dir = filepath.Dir(dir) {
		if rec, ok := records[dir]; ok && rec.ArchiveMode == froster.ModeRecursive {
			return &rec, nil
		}
		if dir == filepath.Dir(dir) {
			break // reached the root
		}
	}
	return nil, nil
}

// All returns every record keyed by local folder.
func (c *JSONCatalog) All() (map[string]froster.Record, error) {
	return c.load()
}

// defaultColumns is the column set ToCSV renders when the caller does
// not pick one.
var defaultColumns = []string{
	"local_folder", "archive_folder", "s3_storage_class",
	"profile", "archive_mode", "timestamp_archive", "user",
}

// ToCSV renders the requested columns for all records, sorted by
// timestamp descending.
func (c *JSONCatalog) ToCSV(columns []string) (string, error) {
	if len(columns) == 0 {
		columns = defaultColumns
	}
	records, err := c.load()
	if err != nil {
		return "", err
	}

	recs := make([]froster.Record, 0, len(records))
	for _, rec := range records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp > recs[j].Timestamp })

	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(columns); err != nil {
		return "", fmt.Errorf("rendering catalog header: %w", err)
	}
	for _, rec := range recs {
		fields := make([]string, len(columns))
		for i, col := range columns {
			fields[i] = columnValue(rec, col)
		}
		if err := w.Write(fields); err != nil {
			return "", fmt.Errorf("rendering catalog row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("rendering catalog: %w", err)
	}
	return b.String(), nil
}

func columnValue(rec froster.Record, column string) string {
	switch column {
	case "local_folder":
		return rec.LocalFolder
	case "archive_folder":
		return rec.ArchiveFolder
	case "s3_storage_class":
		return rec.StorageClass
	case "profile":
		return rec.Profile
	case "provider":
		return rec.Provider
	case "endpoint":
		return rec.Endpoint
	case "region":
		return rec.Region
	case "archive_mode":
		return string(rec.ArchiveMode)
	case "timestamp":
		return rec.Timestamp
	case "timestamp_archive":
		return rec.TimestampArchive
	case "user":
		return rec.User
	case "nih_project":
		return rec.NIHProject
	}
	return ""
}

// Compile-time check that JSONCatalog implements froster.Catalog.
var _ froster.Catalog = (*JSONCatalog)(nil)
