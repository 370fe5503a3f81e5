package froster

// ArchiveMode says whether a catalog record covers a single folder or a
// whole subtree.
type ArchiveMode string

const (
	ModeSingle    ArchiveMode = "Single"
	ModeRecursive ArchiveMode = "Recursive"
)

// Record is one catalog entry: the durable mapping of a local folder to
// its archive location. Records are written only after verification
// succeeds and are replaced only by a forced re-archive.
type Record struct {
	LocalFolder      string      `json:"local_folder"`
	ArchiveFolder    string      `json:"archive_folder"`
	StorageClass     string      `json:"s3_storage_class"`
	Profile          string      `json:"profile"`
	Provider         string      `json:"provider"`
	Endpoint         string      `json:"endpoint"`
	Region           string      `json:"region"`
	ArchiveMode      ArchiveMode `json:"archive_mode"`
	Timestamp        string      `json:"timestamp"`
	TimestampArchive string      `json:"timestamp_archive"`
	User             string      `json:"user"`
	NIHProject       string      `json:"nih_project,omitempty"`
}

// Catalog is the durable folder→record mapping. Keys are canonical
// absolute paths with no trailing separator.
type Catalog interface {
	// Put inserts or replaces the record for localFolder.
	Put(localFolder string, rec Record) error

	// Get returns the record for queryPath: an exact match if one
	// exists, otherwise the nearest ancestor archived in Recursive
	// mode. Returns nil when the path is not archived.
	Get(queryPath string) (*Record, error)

	// All returns every record keyed by local folder.
	All() (map[string]Record, error)

	// ToCSV renders the requested columns for all records, newest
	// first by timestamp.
	ToCSV(columns []string) (string, error)

	// Path returns the location of the backing file, for tombstones
	// and diagnostics.
	Path() string
}
