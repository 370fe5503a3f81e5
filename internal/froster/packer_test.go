package froster_test

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"froster-go/internal/froster"
	"froster-go/internal/testutil"
)

func TestPack(t *testing.T) {
	logger := &froster.NopLogger{}

	t.Run("packs files below the threshold and unlinks them", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"small-1.txt": "tiny",
			"small-2.txt": "also tiny",
			"big.dat":     strings.Repeat("x", 4096),
		})

		res, err := froster.Pack(folder, 1, logger)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}

		sort.Strings(res.Packed)
		if got, want := strings.Join(res.Packed, ","), "small-1.txt,small-2.txt"; got != want {
			t.Errorf("Packed = %s, want %s", got, want)
		}
		if len(res.Entries) != 3 {
			t.Errorf("got %d manifest entries, want 3", len(res.Entries))
		}

		members, err := froster.TarMembers(filepath.Join(folder, froster.TarName))
		if err != nil {
			t.Fatalf("TarMembers() error = %v", err)
		}
		sort.Strings(members)
		if got := strings.Join(members, ","); got != "small-1.txt,small-2.txt" {
			t.Errorf("tar members = %s", got)
		}

		if _, err := os.Stat(filepath.Join(folder, "small-1.txt")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected small-1.txt unlinked, got err=%v", err)
		}
		if _, err := os.Stat(filepath.Join(folder, "big.dat")); err != nil {
			t.Errorf("expected big.dat untouched: %v", err)
		}
	})

	t.Run("zero threshold packs nothing but still writes the manifest", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})

		res, err := froster.Pack(folder, 0, logger)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		if len(res.Packed) != 0 {
			t.Errorf("Packed = %v, want none", res.Packed)
		}
		if _, err := os.Stat(filepath.Join(folder, froster.TarName)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected no tar, got err=%v", err)
		}
		if _, err := os.Stat(filepath.Join(folder, froster.ManifestName)); err != nil {
			t.Errorf("manifest missing: %v", err)
		}
	})

	t.Run("symlinks are recorded but never tarred", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"target.txt": "t"})
		if err := os.Symlink("target.txt", filepath.Join(folder, "link.txt")); err != nil {
			t.Fatalf("creating symlink: %v", err)
		}

		res, err := froster.Pack(folder, 1, logger)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		for _, name := range res.Packed {
			if name == "link.txt" {
				t.Error("symlink was packed")
			}
		}
		var found bool
		for _, e := range res.Entries {
			if e.Name == "link.txt" {
				found = true
				if e.Tarred {
					t.Error("symlink entry marked Tarred")
				}
			}
		}
		if !found {
			t.Error("symlink missing from manifest entries")
		}
		if _, err := os.Lstat(filepath.Join(folder, "link.txt")); err != nil {
			t.Errorf("symlink must survive packing: %v", err)
		}
	})

	t.Run("existing artifacts are not re-packed", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"data.txt":           "payload",
			froster.HashFileName: "0123456789abcdef0123456789abcdef  data.txt\n",
		})

		res, err := froster.Pack(folder, 1, logger)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		for _, e := range res.Entries {
			if froster.IsMetadataFile(e.Name) {
				t.Errorf("metadata file %s entered the manifest", e.Name)
			}
		}
	})
}

func TestUnpack(t *testing.T) {
	logger := &froster.NopLogger{}

	t.Run("round trips packed files", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"one.txt": "first",
			"two.txt": "second",
		})
		if _, err := froster.Pack(folder, 1, logger); err != nil {
			t.Fatalf("Pack() error = %v", err)
		}

		if err := froster.Unpack(folder, logger); err != nil {
			t.Fatalf("Unpack() error = %v", err)
		}
		if got := testutil.ReadFile(t, folder, "one.txt"); got != "first" {
			t.Errorf("one.txt = %q", got)
		}
		if got := testutil.ReadFile(t, folder, "two.txt"); got != "second" {
			t.Errorf("two.txt = %q", got)
		}
		if _, err := os.Stat(filepath.Join(folder, froster.TarName)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected tar removed after unpack, got err=%v", err)
		}
	})

	t.Run("existing files are not clobbered", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"keep.txt": "original"})
		if _, err := froster.Pack(folder, 1, logger); err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		// Simulate a partially restored folder: the member exists with
		// newer content.
		testutil.WriteTree(t, folder, map[string]string{"keep.txt": "newer"})

		if err := froster.Unpack(folder, logger); err != nil {
			t.Fatalf("Unpack() error = %v", err)
		}
		if got := testutil.ReadFile(t, folder, "keep.txt"); got != "newer" {
			t.Errorf("keep.txt = %q, want the existing file kept", got)
		}
	})

	t.Run("missing tar is a no-op", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.txt": "f"})
		if err := froster.Unpack(folder, logger); err != nil {
			t.Fatalf("Unpack() error = %v", err)
		}
	})
}
