package froster_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"froster-go/internal/froster"
	"froster-go/internal/testutil"
)

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes verified payload and leaves a tombstone", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"small.txt": "small",
			"big.dat":   strings.Repeat("x", 4096),
		})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassDeepArchive))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{SmallFileKiB: 1}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if err := svc.Delete(ctx, []string{folder}, froster.DeleteFlags{}); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		// Payload gone: the big file, the tar, and the tarred originals.
		for _, name := range []string{"big.dat", froster.TarName, "small.txt"} {
			if _, err := os.Stat(filepath.Join(folder, name)); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("expected %s deleted, got err=%v", name, err)
			}
		}
		// Metadata stays for the eventual restore.
		for _, name := range []string{froster.ManifestName, froster.HashFileName, froster.TombstoneName} {
			if _, err := os.Stat(filepath.Join(folder, name)); err != nil {
				t.Errorf("expected %s kept, got err=%v", name, err)
			}
		}

		tombstone := testutil.ReadFile(t, folder, froster.TombstoneName)
		if !strings.Contains(tombstone, ":s3:test-bucket/") {
			t.Errorf("tombstone does not name the archive location:\n%s", tombstone)
		}
		if !strings.Contains(tombstone, "froster restore") {
			t.Errorf("tombstone does not name the restore command:\n%s", tombstone)
		}
		if !strings.Contains(tombstone, string(froster.ClassDeepArchive)) {
			t.Errorf("tombstone does not name the storage class:\n%s", tombstone)
		}
	})

	t.Run("deleting twice is a reported no-op", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if err := svc.Delete(ctx, []string{folder}, froster.DeleteFlags{}); err != nil {
			t.Fatalf("first Delete() error = %v", err)
		}

		// The hash file survives the first delete, so the second pass
		// re-verifies and finds nothing left to remove.
		if err := svc.Delete(ctx, []string{folder}, froster.DeleteFlags{}); err != nil {
			t.Fatalf("second Delete() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(folder, froster.TombstoneName)); err != nil {
			t.Errorf("tombstone missing after second delete: %v", err)
		}
	})

	t.Run("unregistered folder is an error", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "data"})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		err := svc.Delete(ctx, []string{folder}, froster.DeleteFlags{})
		if !errors.Is(err, froster.ErrNotArchived) {
			t.Fatalf("Delete() error = %v, want ErrNotArchived", err)
		}
	})

	t.Run("refuses to delete when the remote does not match", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"big.dat": strings.Repeat("x", 4096)})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		// NoTar uploads big.dat as its own key, so corrupting that key
		// is what the hash-file verification must catch.
		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{NoTar: true}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}

		// Corrupt the remote copy by uploading different bytes under the
		// same key.
		corrupt := testutil.TempTree(t, map[string]string{"big.dat": "corrupted"})
		prefix := ":s3:test-bucket/" + remotePrefix(folder)
		if _, err := store.Copy(ctx, corrupt, prefix, froster.CopyOptions{MaxDepth: 1}); err != nil {
			t.Fatalf("corrupting remote: %v", err)
		}

		err := svc.Delete(ctx, []string{folder}, froster.DeleteFlags{})
		if !errors.Is(err, froster.ErrVerification) {
			t.Fatalf("Delete() error = %v, want ErrVerification", err)
		}
		if _, err := os.Stat(filepath.Join(folder, "big.dat")); err != nil {
			t.Errorf("payload must survive a failed verification: %v", err)
		}
		if _, err := os.Stat(filepath.Join(folder, froster.TombstoneName)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("no tombstone may be written on failed verification, got err=%v", err)
		}
	})

	t.Run("recursive delete covers subfolders under the root record", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"top.dat":      "top",
			"sub/deep.dat": "deep",
		})
		store := testutil.NewFakeObjectStore("test-bucket")
		svc, _ := newTestService(t, store, testTarget(froster.ClassStandard))

		if err := svc.Archive(ctx, []string{folder}, froster.ArchiveFlags{Recursive: true}); err != nil {
			t.Fatalf("Archive() error = %v", err)
		}
		if err := svc.Delete(ctx, []string{folder}, froster.DeleteFlags{Recursive: true}); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		if _, err := os.Stat(filepath.Join(folder, "sub", "deep.dat")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected sub/deep.dat deleted, got err=%v", err)
		}
		if _, err := os.Stat(filepath.Join(folder, "sub", froster.TombstoneName)); err != nil {
			t.Errorf("expected a tombstone in the subfolder: %v", err)
		}
	})
}
