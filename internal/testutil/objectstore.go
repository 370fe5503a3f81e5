package testutil

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"froster-go/internal/froster"
)

// restoreState tracks the cold-tier lifecycle of one fake object.
type restoreState int

const (
	restoreNone restoreState = iota
	restoreOngoing
	restoreDone
)

type fakeObject struct {
	data    []byte
	class   froster.StorageClass
	restore restoreState
}

// FakeObjectStore is an in-memory ObjectStore. Objects are keyed by
// "<bucket>/<key>". Cold objects refuse download until a restore has
// been triggered and the test has called ThawAll.
type FakeObjectStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]*fakeObject
	mounts  []string

	// CopyErr and RestoreErr, when set, fail the next matching call.
	CopyErr    error
	RestoreErr error
}

func NewFakeObjectStore(buckets ...string) *FakeObjectStore {
	s := &FakeObjectStore{
		buckets: make(map[string]bool),
		objects: make(map[string]*fakeObject),
	}
	for _, b := range buckets {
		s.buckets[b] = true
	}
	return s
}

var _ froster.ObjectStore = (*FakeObjectStore)(nil)

func (s *FakeObjectStore) ListBuckets(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.buckets))
	for b := range s.buckets {
		names = append(names, b)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FakeObjectStore) CreateBucket(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[name] = true
	return nil
}

func (s *FakeObjectStore) HeadBucket(ctx context.Context, name string) (froster.BucketAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.buckets[name] {
		return froster.BucketAccess{}, fmt.Errorf("%w: bucket %s not found", froster.ErrRemoteFailed, name)
	}
	return froster.BucketAccess{Readable: true, Writable: true}, nil
}

func isRemote(spec string) bool { return strings.HasPrefix(spec, ":s3:") }

func (s *FakeObjectStore) Copy(ctx context.Context, src, dst string, opts froster.CopyOptions) (froster.CopyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CopyErr != nil {
		err := s.CopyErr
		s.CopyErr = nil
		return froster.CopyStats{}, err
	}

	switch {
	case !isRemote(src) && isRemote(dst):
		return s.upload(src, dst, opts)
	case isRemote(src) && !isRemote(dst):
		return s.download(src, dst, opts)
	default:
		return froster.CopyStats{}, fmt.Errorf("unsupported copy %s -> %s", src, dst)
	}
}

func (s *FakeObjectStore) upload(src, dst string, opts froster.CopyOptions) (froster.CopyStats, error) {
	bucket, prefix := froster.BucketAndKey(dst)
	class := opts.StorageClass
	if class == "" {
		class = froster.ClassStandard
	}

	var stats froster.CopyStats
	put := func(name string, data []byte) {
		s.objects[bucket+"/"+path.Join(prefix, name)] = &fakeObject{data: data, class: class}
		stats.Transfers++
		stats.Bytes += int64(len(data))
	}

	info, err := os.Stat(src)
	if err != nil {
		return froster.CopyStats{}, err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(src)
		if err != nil {
			return froster.CopyStats{}, err
		}
		put(filepath.Base(src), data)
		return stats, nil
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return froster.CopyStats{}, err
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if excluded(entry.Name(), opts.Excludes) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, entry.Name()))
		if err != nil {
			stats.Errors++
			stats.LastError = err.Error()
			continue
		}
		put(entry.Name(), data)
	}
	return stats, nil
}

func (s *FakeObjectStore) download(src, dst string, opts froster.CopyOptions) (froster.CopyStats, error) {
	bucket, prefix := froster.BucketAndKey(src)
	base := bucket + "/" + prefix

	var stats froster.CopyStats
	for key, obj := range s.objects {
		if key != base && !strings.HasPrefix(key, base+"/") {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(key, base), "/")
		if rel == "" {
			rel = path.Base(key)
		}
		if opts.MaxDepth == 1 && strings.Contains(rel, "/") {
			continue
		}
		if obj.class.Cold() && obj.restore != restoreDone {
			stats.Errors++
			stats.LastError = fmt.Sprintf("%s is archived and not restored", key)
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o775); err != nil {
			return froster.CopyStats{}, err
		}
		if err := os.WriteFile(target, obj.data, 0o664); err != nil {
			return froster.CopyStats{}, err
		}
		stats.Transfers++
		stats.Bytes += int64(len(obj.data))
	}
	return stats, nil
}

func excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Checksum verifies each hash-file entry against the fake remote's
// object content under dstPrefix.
func (s *FakeObjectStore) Checksum(ctx context.Context, md5File, dstPrefix string, opts froster.ChecksumOptions) (bool, error) {
	entries, err := froster.ReadHashFile(md5File)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, prefix := froster.BucketAndKey(dstPrefix)
	for _, e := range entries {
		obj, ok := s.objects[bucket+"/"+path.Join(prefix, e.Name)]
		if !ok {
			return false, nil
		}
		sum := md5.Sum(obj.data)
		if hex.EncodeToString(sum[:]) != e.Sum {
			return false, nil
		}
	}
	return true, nil
}

func (s *FakeObjectStore) RestoreObjects(ctx context.Context, bucket, prefix string, days int, tier froster.RetrievalTier) (froster.RestoreTally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RestoreErr != nil {
		err := s.RestoreErr
		s.RestoreErr = nil
		return froster.RestoreTally{}, err
	}

	var tally froster.RestoreTally
	base := bucket + "/" + prefix
	for key, obj := range s.objects {
		if key != base && !strings.HasPrefix(key, base+"/") {
			continue
		}
		switch {
		case !obj.class.Cold():
			tally.NotCold = append(tally.NotCold, key)
		case obj.restore == restoreDone:
			tally.Completed = append(tally.Completed, key)
		case obj.restore == restoreOngoing:
			tally.InProgress = append(tally.InProgress, key)
		default:
			obj.restore = restoreOngoing
			tally.Triggered = append(tally.Triggered, key)
		}
	}
	sort.Strings(tally.Triggered)
	sort.Strings(tally.InProgress)
	sort.Strings(tally.Completed)
	sort.Strings(tally.NotCold)
	return tally, nil
}

func (s *FakeObjectStore) Mount(ctx context.Context, src, mountpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts = append(s.mounts, mountpoint)
	return nil
}

func (s *FakeObjectStore) Unmount(ctx context.Context, mountpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.mounts {
		if m == mountpoint {
			s.mounts = append(s.mounts[:i], s.mounts[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *FakeObjectStore) ListMounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.mounts...), nil
}

// ThawAll completes every in-flight restore, simulating the end of a
// retrieval window.
func (s *FakeObjectStore) ThawAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range s.objects {
		if obj.restore == restoreOngoing {
			obj.restore = restoreDone
		}
	}
}

// Object returns the stored bytes for bucket/key, or nil.
func (s *FakeObjectStore) Object(bucket, key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil
	}
	return append([]byte(nil), obj.data...)
}

// Keys returns all object keys in bucket, sorted.
func (s *FakeObjectStore) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if rest, ok := strings.CutPrefix(key, bucket+"/"); ok {
			keys = append(keys, rest)
		}
	}
	sort.Strings(keys)
	return keys
}

// SetClass rewrites the storage class of every object in bucket,
// mimicking an archive that landed in a cold tier.
func (s *FakeObjectStore) SetClass(bucket string, class froster.StorageClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, obj := range s.objects {
		if strings.HasPrefix(key, bucket+"/") {
			obj.class = class
			obj.restore = restoreNone
		}
	}
}
