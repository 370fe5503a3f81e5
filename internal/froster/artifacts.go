package froster

import (
	"path/filepath"
	"strings"
)

// On-disk artifact names left inside an archived folder.
const (
	// TarName holds the packed small files. Payload, not metadata: it
	// is hashed, uploaded, and deleted like any user file.
	TarName = "Froster.smallfiles.tar"

	// ManifestName is the per-folder CSV of everything present at
	// archive time. Always uploaded to a hot storage class.
	ManifestName = "Froster.allfiles.csv"

	// HashFileName holds archive-time md5 sums.
	HashFileName = ".froster.md5sum"

	// RestoredHashFileName holds restore-time md5 sums.
	RestoredHashFileName = ".froster-restored.md5sum"

	// TombstoneName is written after verified deletion of payload.
	TombstoneName = "Where-did-the-files-go.txt"
)

// IsMetadataFile reports whether name is one of the four froster
// metadata files that are excluded from hashing and kept by delete.
// The small-files tar is payload and is not in this set.
func IsMetadataFile(name string) bool {
	switch name {
	case ManifestName, HashFileName, RestoredHashFileName, TombstoneName:
		return true
	}
	return false
}

// MetadataExcludes returns copy exclude patterns covering all froster
// metadata files, for the payload data copy.
func MetadataExcludes() []string {
	return []string{ManifestName, HashFileName, RestoredHashFileName, TombstoneName}
}

// Target describes where archives go and under which session.
type Target struct {
	Provider     string
	Profile      string
	Endpoint     string
	Region       string
	Bucket       string
	ArchiveDir   string
	StorageClass StorageClass

	// HotClass is the provider's "readable without restore" class used
	// for the manifest CSV. INTELLIGENT_TIERING on AWS, the provider
	// default elsewhere.
	HotClass StorageClass
}

// RemotePrefix maps a canonical local folder to its rclone-style remote
// spec: ":s3:<bucket>/<archive_dir>/<local_path_minus_leading_sep>".
func (t Target) RemotePrefix(localFolder string) string {
	rel := strings.TrimPrefix(filepath.ToSlash(localFolder), "/")
	return ":s3:" + t.Bucket + "/" + t.ArchiveDir + "/" + rel
}

// ArchiveFolderURL is RemotePrefix with the trailing separator the
// catalog stores.
func (t Target) ArchiveFolderURL(localFolder string) string {
	return t.RemotePrefix(localFolder) + "/"
}

// SubPrefix extends an ancestor's archive prefix by the path of a
// descendant relative to the ancestor.
func SubPrefix(archiveFolder, ancestor, descendant string) string {
	prefix := strings.TrimSuffix(archiveFolder, "/")
	if descendant == ancestor {
		return prefix
	}
	rel, err := filepath.Rel(ancestor, descendant)
	if err != nil || rel == "." {
		return prefix
	}
	return prefix + "/" + filepath.ToSlash(rel)
}

// BucketAndKey splits an ":s3:<bucket>/<key...>" spec into its bucket
// and key prefix.
func BucketAndKey(remote string) (bucket, key string) {
	s := strings.TrimPrefix(remote, ":s3:")
	s = strings.TrimPrefix(s, "/")
	bucket, key, _ = strings.Cut(s, "/")
	return bucket, strings.TrimSuffix(key, "/")
}
