package froster

import "context"

// StorageClass names an object storage class. The values follow the
// S3 naming that rclone and the AWS SDK both understand.
type StorageClass string

const (
	ClassStandard           StorageClass = "STANDARD"
	ClassIntelligentTiering StorageClass = "INTELLIGENT_TIERING"
	ClassGlacierIR          StorageClass = "GLACIER_IR"
	ClassGlacier            StorageClass = "GLACIER"
	ClassDeepArchive        StorageClass = "DEEP_ARCHIVE"
)

// Cold reports whether objects in this class must be restored before
// they can be read.
func (c StorageClass) Cold() bool {
	return c == ClassGlacier || c == ClassDeepArchive
}

// RetrievalTier selects the speed/cost tradeoff of a cold-tier restore.
type RetrievalTier string

const (
	TierBulk      RetrievalTier = "Bulk"
	TierStandard  RetrievalTier = "Standard"
	TierExpedited RetrievalTier = "Expedited"
)

// BucketAccess reports the outcome of a bucket read/write probe.
type BucketAccess struct {
	Readable bool
	Writable bool
}

// CopyOptions tune a single Copy invocation.
type CopyOptions struct {
	// MaxDepth limits recursion; 1 copies direct children only,
	// 0 means unlimited.
	MaxDepth int

	// Links copies symlinks as symlinks instead of following them.
	Links bool

	// Excludes are per-pattern excludes applied to the source.
	Excludes []string

	// StorageClass overrides the session's configured class for this
	// copy. Empty keeps the session default.
	StorageClass StorageClass
}

// CopyStats aggregates the result of a Copy.
type CopyStats struct {
	Transfers int64
	Bytes     int64
	Checks    int64
	Errors    int64
	LastError string
}

// ChecksumOptions tune a Checksum invocation.
type ChecksumOptions struct {
	MaxDepth int
}

// RestoreTally partitions the objects under a prefix by cold-restore
// state after a RestoreObjects call. The four sets are disjoint.
type RestoreTally struct {
	Triggered  []string // restore request issued by this call
	InProgress []string // restore already running
	Completed  []string // restored copy available for download
	NotCold    []string // object is not in a cold class, readable as-is
}

// Pending reports whether any object still needs time before download
// can begin.
func (t RestoreTally) Pending() bool {
	return len(t.Triggered) > 0 || len(t.InProgress) > 0
}

// ObjectStore is the uniform adapter over S3-compatible providers.
// Remote locations are rclone-style specs of the form
// ":s3:<bucket>/<prefix>"; local locations are absolute paths. The
// engines depend only on this interface so an in-process fake can be
// swapped in for tests.
type ObjectStore interface {
	// ListBuckets returns the bucket names visible to the session.
	ListBuckets(ctx context.Context) ([]string, error)

	// CreateBucket creates the bucket if it does not exist. Idempotent.
	// On AWS it also applies AES-256 server side encryption.
	CreateBucket(ctx context.Context, name string) error

	// HeadBucket probes read and write access. The write probe puts and
	// deletes a zero-byte object under an opaque key.
	HeadBucket(ctx context.Context, name string) (BucketAccess, error)

	// Copy transfers files between src and dst, either of which may be
	// a remote spec. A non-zero Errors count in the returned stats means
	// the copy failed.
	Copy(ctx context.Context, src, dst string, opts CopyOptions) (CopyStats, error)

	// Checksum verifies the contents at dstPrefix against a local md5
	// manifest file. Returns true iff zero mismatches or errors.
	Checksum(ctx context.Context, md5File, dstPrefix string, opts ChecksumOptions) (bool, error)

	// RestoreObjects lists objects under prefix and issues cold-tier
	// restore requests where needed. Idempotent under retry: objects
	// with a restore already in flight are never re-requested.
	RestoreObjects(ctx context.Context, bucket, prefix string, days int, tier RetrievalTier) (RestoreTally, error)

	// Mount attaches src read-only at mountpoint. The mount process
	// runs detached; callers who need blocking behavior poll ListMounts.
	Mount(ctx context.Context, src, mountpoint string) error

	// Unmount detaches a previously mounted path.
	Unmount(ctx context.Context, mountpoint string) error

	// ListMounts returns the mount points of all live froster mounts.
	ListMounts() ([]string, error)
}
