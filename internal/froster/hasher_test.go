package froster_test

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"froster-go/internal/froster"
	"froster-go/internal/testutil"
)

func TestHashFolder(t *testing.T) {
	logger := &froster.NopLogger{}

	t.Run("writes sorted two-space md5 lines", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"zz.dat": "zz",
			"aa.dat": "aa",
			"mm.dat": "mm",
		})

		n, err := froster.HashFolder(folder, froster.HashFileName, 4, logger)
		if err != nil {
			t.Fatalf("HashFolder() error = %v", err)
		}
		if n != 3 {
			t.Errorf("got %d lines, want 3", n)
		}

		content := testutil.ReadFile(t, folder, froster.HashFileName)
		lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
		wantOrder := []string{"aa.dat", "mm.dat", "zz.dat"}
		for i, line := range lines {
			sum, name, ok := strings.Cut(line, "  ")
			if !ok || len(sum) != 32 {
				t.Fatalf("malformed line %q", line)
			}
			if name != wantOrder[i] {
				t.Errorf("line %d names %s, want %s", i, name, wantOrder[i])
			}
			raw := md5.Sum([]byte(name[:2]))
			if sum != hex.EncodeToString(raw[:]) {
				t.Errorf("sum for %s = %s", name, sum)
			}
		}
	})

	t.Run("metadata files are excluded", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"data.dat":            "data",
			froster.ManifestName:  "File,...\n",
			froster.TombstoneName: "gone\n",
			froster.HashFileName:  "stale\n",
			froster.TarName:       "not a real tar but hashed anyway",
		})

		n, err := froster.HashFolder(folder, froster.HashFileName, 4, logger)
		if err != nil {
			t.Fatalf("HashFolder() error = %v", err)
		}
		// data.dat plus the tar: the tar is payload, not metadata.
		if n != 2 {
			t.Errorf("got %d lines, want 2", n)
		}
		content := testutil.ReadFile(t, folder, froster.HashFileName)
		if strings.Contains(content, froster.ManifestName) {
			t.Errorf("manifest slipped into hash file:\n%s", content)
		}
	})

	t.Run("empty folder removes the output and errors", func(t *testing.T) {
		folder := testutil.TempTree(t, nil)
		_, err := froster.HashFolder(folder, froster.HashFileName, 4, logger)
		if err == nil {
			t.Fatal("expected an error for an empty folder")
		}
		if _, err := os.Stat(filepath.Join(folder, froster.HashFileName)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected no hash file, got err=%v", err)
		}
	})
}

func TestHashWorkers(t *testing.T) {
	if got := froster.HashWorkers(1); got != 4 {
		t.Errorf("HashWorkers(1) = %d, want the floor of 4", got)
	}
	if got := froster.HashWorkers(16); got != 16 {
		t.Errorf("HashWorkers(16) = %d", got)
	}
	if got := froster.HashWorkers(0); got < 4 {
		t.Errorf("HashWorkers(0) = %d, want >= 4", got)
	}
}

func TestReadHashFile(t *testing.T) {
	t.Run("round trips HashFolder output", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{"f.dat": "content"})
		if _, err := froster.HashFolder(folder, froster.HashFileName, 4, &froster.NopLogger{}); err != nil {
			t.Fatalf("HashFolder() error = %v", err)
		}

		entries, err := froster.ReadHashFile(filepath.Join(folder, froster.HashFileName))
		if err != nil {
			t.Fatalf("ReadHashFile() error = %v", err)
		}
		if len(entries) != 1 || entries[0].Name != "f.dat" {
			t.Fatalf("entries = %+v", entries)
		}
	})

	t.Run("rejects malformed lines", func(t *testing.T) {
		folder := testutil.TempTree(t, map[string]string{
			"bad.md5": "nothex  name\n",
		})
		if _, err := froster.ReadHashFile(filepath.Join(folder, "bad.md5")); err == nil {
			t.Fatal("expected an error for a malformed hash file")
		}
	})
}
