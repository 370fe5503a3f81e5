package froster_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"froster-go/internal/catalog"
	"froster-go/internal/froster"
	"froster-go/internal/testutil"
)

func testTarget(class froster.StorageClass) froster.Target {
	return froster.Target{
		Provider:     "aws",
		Profile:      "test",
		Region:       "us-west-2",
		Bucket:       "test-bucket",
		ArchiveDir:   "froster",
		StorageClass: class,
		HotClass:     froster.ClassStandard,
	}
}

// newTestService wires the engines to a fake store and a real JSON
// catalog in a temp directory.
func newTestService(t *testing.T, store froster.ObjectStore, target froster.Target) (*froster.Service, froster.Catalog) {
	t.Helper()
	cat := catalog.New(filepath.Join(t.TempDir(), catalog.CatalogName), &froster.NopLogger{})
	svc := froster.NewService(store, cat, target, &froster.NopLogger{}, froster.RealClock{}, nil, 4, "testuser")
	return svc, cat
}

// remotePrefix is where the fake store files a folder's objects: the
// archive dir plus the folder path without its leading separator.
func remotePrefix(folder string) string {
	return "froster/" + strings.TrimPrefix(folder, "/")
}

func TestService_Archive(t *testing.T) {
	ctx := context.Background()

	t.Run("archives a folder end to end", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"small-a.txt": "aaa",
			"small-b.txt": "bbb",
			"big.dat":     strings.Repeat("x", 4096),
		})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, cat := newTestService(t, store, testTarget(froster.ClassDeepArchive))

		err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{SmallFileKiB: 1})
		if err != nil {
			t.Fatalf("Archive() error = %v", err)
		}

		// Small files are packed and unlinked; the tar, manifest and
		// hash file appear alongside the untouched large file.
		for _, name := range []string{froster.TarName, froster.ManifestName, froster.HashFileName, "big.dat"} {
			if _, err := os.Stat(filepath.Join(folder, name)); err != nil {
				t.Errorf("expected %s to exist: %v", name, err)
			}
		}
		for _, name := range []string{"small-a.txt", "small-b.txt"} {
			if _, err := os.Stat(filepath.Join(folder, name)); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("expected %s to be packed away, got err=%v", name, err)
			}
		}

		// The remote carries payload plus manifest, never the hash file.
		keys := store.Keys("test-bucket")
		want := map[string]bool{
			remotePrefix(folder) + "/" + froster.TarName:      true,
			remotePrefix(folder) + "/" + froster.ManifestName: true,
			remotePrefix(folder) + "/big.dat":                 true,
		}
		for _, key := range keys {
			if strings.HasSuffix(key, froster.HashFileName) {
				t.Errorf("hash file must not be uploaded, got %s", key)
			}
			delete(want, key)
		}
		if len(want) > 0 {
			t.Errorf("missing remote objects: %v (have %v)", want, keys)
		}

		rec, err := cat.Get(folder)
		if err != nil {
			t.Fatalf("catalog Get() error = %v", err)
		}
		if rec == nil {
			t.Fatal("expected a catalog record")
		}
		if rec.ArchiveFolder != ":s3:test-bucket/"+remotePrefix(folder)+"/" {
			t.Errorf("ArchiveFolder = %s", rec.ArchiveFolder)
		}
		if rec.ArchiveMode != froster.ModeSingle {
			t.Errorf("ArchiveMode = %s, want %s", rec.ArchiveMode, froster.ModeSingle)
		}
		if rec.StorageClass != string(froster.ClassDeepArchive) {
			t.Errorf("StorageClass = %s", rec.StorageClass)
		}
	})

	t.Run("rejects a verified re-archive without force", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{}); err != nil {
			t.Fatalf("first Archive() error = %v", err)
		}
		err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{})
		if !errors.Is(err, froster.ErrConflict) {
			t.Fatalf("second Archive() error = %v, want ErrConflict", err)
		}
	})

	t.Run("force resets and re-archives", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{SmallFileKiB: 1}); err != nil {
			t.Fatalf("first Archive() error = %v", err)
		}
		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{SmallFileKiB: 1, Force: true}); err != nil {
			t.Fatalf("forced Archive() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(folder, froster.HashFileName)); err != nil {
			t.Errorf("hash file missing after forced re-archive: %v", err)
		}
	})

	t.Run("dry run uploads nothing and registers nothing", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, cat := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{DryRun: true}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if keys := store.Keys("test-bucket"); len(keys) != 0 {
			t.Errorf("expected no uploads, got %v", keys)
		}
		rec, err := cat.Get(folder)
		if err != nil {
			t.Fatalf("catalog Get() error = %v", err)
		}
		if rec != nil {
			t.Error("expected no catalog record after dry run")
		}
	})

	t.Run("rejects overlapping folders up front", func(t *testing.T) {
		parent := testutil.TempTree(t, map[string]string{"child/f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		err := svc.Archive(ctx, []string{parent, filepath.Join(parent, "child")}, froster.ArchiveFlags{})
		if !errors.Is(err, froster.ErrConflict) {
			t.Fatalf("Archive() error = %v, want ErrConflict", err)
		}
		if keys := store.Keys("test-bucket"); len(keys) != 0 {
			t.Errorf("expected no uploads after overlap rejection, got %v", keys)
		}
	})

	t.Run("recursive archives subfolders under subprefixes", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"top.dat":      "top",
			"sub/deep.dat": "deep",
		})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, cat := newTestService(t, store, testTarget(froster.ClassStandard))

		// NoTar keeps the payload out of the small-files tar so each
		// file shows up as its own remote key.
		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{Recursive: true, NoTar: true}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}

		keys := store.Keys("test-bucket")
		found := false
		for _, key := range keys {
			if key == remotePrefix(folder)+"/sub/deep.dat" {
				found = true
			}
		}
		if !found {
			t.Errorf("subfolder payload not uploaded, keys = %v", keys)
		}

		// Only the root gets a record, and it shadows descendants.
		rec, err := cat.Get(filepath.Join(folder, "sub"))
		if err != nil {
			t.Fatalf("catalog Get() error = %v", err)
		}
		if rec == nil {
			t.Fatal("expected the root record to cover the subfolder")
		}
		if rec.LocalFolder != folder {
			t.Errorf("record LocalFolder = %s, want %s", rec.LocalFolder, folder)
		}
		if rec.ArchiveMode != froster.ModeRecursive {
			t.Errorf("ArchiveMode = %s, want %s", rec.ArchiveMode, froster.ModeRecursive)
		}
	})

	t.Run("recursive archive refuses a subfolder archived on its own", func(t *testing.T) {
		parent := testutil.TempTree(t, map[string]string{"sub/a.txt": "aaa"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		sub := filepath.Join(parent, "sub")
		if err := svc.Archive(ctx, []string{sub}, froster.ArchiveFlags{SmallFileKiB: 1}); err != nil {
			t.Fatalf("Archive(sub) error = %v", err)
		}
		if err := os.WriteFile(filepath.Join(sub, "b.txt"), []byte("bbb"), 0o644); err != nil {
			t.Fatal(err)
		}

		// Without force, archiving the parent must not re-pack sub: that
		// would truncate its tar and lose the originals packed inside.
		err := svc.Archive(ctx, []string{parent}, froster.ArchiveFlags{Recursive: true, SmallFileKiB: 1})
		if !errors.Is(err, froster.ErrConflict) {
			t.Fatalf("Archive(parent) error = %v, want ErrConflict", err)
		}
		members, err := froster.TarMembers(filepath.Join(sub, froster.TarName))
		if err != nil {
			t.Fatalf("TarMembers() error = %v", err)
		}
		if len(members) != 1 || members[0] != "a.txt" {
			t.Errorf("tar members = %v, want [a.txt]", members)
		}
	})

	t.Run("empty folder archives nothing", func(t *testing.T) {
		folder := testutil.TempTree(t, nil)
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, cat := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		rec, err := cat.Get(folder)
		if err != nil {
			t.Fatalf("catalog Get() error = %v", err)
		}
		if rec != nil {
			t.Error("expected no catalog record for an empty folder")
		}
	})

	t.Run("failed upload keeps the folder unregistered", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		store.CopyErr = errors.New("connection reset")
		svc, cat := newTestService(t, store, testTarget(froster.ClassStandard))

		err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{})
		if err == nil {
			t.Fatal("expected Archive() to fail")
		}
		rec, err := cat.Get(folder)
		if err != nil {
			t.Fatalf("catalog Get() error = %v", err)
		}
		if rec != nil {
			t.Error("expected no catalog record after failed upload")
		}
	})
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()

	folder := testutil.TempTree(t, map[string]string{"a.txt": "aaa", "b.txt": "bbb"})
	store := testutil.NewFakeObjectStore("test-bucket")
	svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

	if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{SmallFileKiB: 1}); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if err := svc.Reset([]string{folder}, false); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	// Originals are back, artifacts are gone.
	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(folder, name)); err != nil {
			t.Errorf("expected %s restored after reset: %v", name, err)
		}
	}
	for _, name := range []string{froster.TarName, froster.ManifestName, froster.HashFileName} {
		if _, err := os.Stat(filepath.Join(folder, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s removed after reset, got err=%v", name, err)
		}
	}
}
