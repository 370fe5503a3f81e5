package index

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"froster-go/internal/froster"
	"froster-go/internal/testutil"
)

// walkRow renders one 17-column walker record.
func walkRow(folder string, uid, gid int, atime, mtime, count, bytes int64) []string {
	itoa := func(n int64) string { return strconv.FormatInt(n, 10) }
	return []string{
		"1", "0", "1", folder, "", // inode, parent, depth, filename, ext
		itoa(int64(uid)), itoa(int64(gid)),
		"0", "0", "0", "0", "0", // size, dev, blocks, nlinks, mode
		itoa(atime), itoa(mtime), "0",
		itoa(count), itoa(bytes),
	}
}

func TestParseRow(t *testing.T) {
	tests := []struct {
		name   string
		record []string
		keep   bool
	}{
		{"directory with files", walkRow("/data/a", 1000, 1000, 100, 200, 5, 4096), true},
		{"file row", walkRow("/data/a/f", 1000, 1000, 100, 200, -1, 4096), false},
		{"zero count directory", walkRow("/data/empty", 1000, 1000, 100, 200, 0, 4096), true},
		{"zero byte directory", walkRow("/data/zero", 1000, 1000, 100, 200, 3, 0), false},
		{"garbage count", walkRow("/data/bad", 1000, 1000, 100, 200, 1, 1)[:15], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.record) < colCount {
				// short record is filtered before parseRow; nothing to do
				return
			}
			row, ok := parseRow(tt.record)
			if ok != tt.keep {
				t.Fatalf("parseRow() ok = %v, want %v", ok, tt.keep)
			}
			if ok && row.Folder == "" {
				t.Error("parseRow() dropped the folder name")
			}
		})
	}
}

func TestParseWalkerCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walk.csv")

	// Two directory rows, a file row and a filename carrying a raw
	// non-UTF-8 byte, as pwalk emits for legacy filesystems.
	raw := strings.Join([]string{
		`1,0,1,"/data/big",,1000,1000,0,0,0,0,0,1700000000,1700000100,0,10,1073741824`,
		`2,0,1,"/data/caf` + "\xe9" + `",,1000,1000,0,0,0,0,0,1700000000,1700000100,0,3,4096`,
		`3,1,2,"/data/big/file.dat",,1000,1000,0,0,0,0,0,1700000000,1700000100,0,-1,4096`,
		`garbage,row`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := parseWalkerCSV(path, &froster.NopLogger{})
	if err != nil {
		t.Fatalf("parseWalkerCSV() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("parseWalkerCSV() kept %d rows, want 2", len(rows))
	}
	if rows[0].Folder != "/data/big" || rows[0].Bytes != 1073741824 || rows[0].FileCount != 10 {
		t.Errorf("row = %+v", rows[0])
	}
	if !strings.HasPrefix(rows[1].Folder, "/data/caf") {
		t.Errorf("legacy filename lost: %q", rows[1].Folder)
	}
}

func TestProject(t *testing.T) {
	clock := testutil.FixedClock()
	ix := &Indexer{clock: clock, logger: &froster.NopLogger{}}
	now := clock.Now().Unix()
	const gib = int64(1 << 30)

	// Folders deliberately do not exist, so the child-time rescan falls
	// back to the walker timestamps.
	rows := []dirRow{
		{Folder: "/x/huge", UID: 0, GID: 0, Atime: now - 40*86400, Mtime: now - 90*86400, FileCount: 10, Bytes: 100 * gib},
		{Folder: "/x/big", UID: 0, GID: 0, Atime: now, Mtime: now, FileCount: 20, Bytes: 20 * gib},
		{Folder: "/x/also-big", UID: 0, GID: 0, Atime: now, Mtime: now, FileCount: 20, Bytes: 20 * gib},
		{Folder: "/x/small", UID: 0, GID: 0, Atime: now, Mtime: now, FileCount: 5, Bytes: 1 * gib},
		{Folder: "/x/tiny-files", UID: 0, GID: 0, Atime: now, Mtime: now, FileCount: 1 << 20, Bytes: 20 * gib},
	}

	t.Run("filters and sorts by size", func(t *testing.T) {
		got := ix.project(rows, Options{MinGiB: 10, MinMiBAvg: 10, MaxEntries: 100})
		if len(got) != 3 {
			t.Fatalf("project() kept %d hotspots, want 3", len(got))
		}
		if got[0].Folder != "/x/huge" {
			t.Errorf("largest first: got %s", got[0].Folder)
		}
		// Equal sizes fall back to folder order.
		if got[1].Folder != "/x/also-big" || got[2].Folder != "/x/big" {
			t.Errorf("tie break wrong: %s, %s", got[1].Folder, got[2].Folder)
		}
		if got[0].AccDays != 40 || got[0].ModDays != 90 {
			t.Errorf("ages = %d/%d, want 40/90", got[0].AccDays, got[0].ModDays)
		}
		if got[0].GiB != 100 || got[0].TiB != 0.098 {
			t.Errorf("sizes = %v GiB / %v TiB", got[0].GiB, got[0].TiB)
		}
	})

	t.Run("caps the entry count", func(t *testing.T) {
		got := ix.project(rows, Options{MinGiB: 10, MinMiBAvg: 10, MaxEntries: 1})
		if len(got) != 1 || got[0].Folder != "/x/huge" {
			t.Fatalf("project() = %+v, want only /x/huge", got)
		}
	})

	t.Run("zero file count yields a zero average", func(t *testing.T) {
		zero := []dirRow{
			{Folder: "/x/links-only", UID: 0, GID: 0, Atime: now, Mtime: now, FileCount: 0, Bytes: 50 * gib},
		}
		if got := ix.project(zero, Options{MinGiB: 10, MinMiBAvg: 10, MaxEntries: 100}); len(got) != 0 {
			t.Fatalf("project() kept %d hotspots, want 0", len(got))
		}
		got := ix.project(zero, Options{MinGiB: 10, MinMiBAvg: 0, MaxEntries: 100})
		if len(got) != 1 || got[0].MiBAvg != 0 {
			t.Fatalf("project() = %+v, want one hotspot with a zero average", got)
		}
	})
}

func TestRunReusesExistingReport(t *testing.T) {
	folder := t.TempDir()
	outDir := t.TempDir()
	ix := NewIndexer(testutil.FixedClock(), &froster.NopLogger{})

	want := Hotspot{
		User: "alice", AccDays: 12, ModDays: 40, GiB: 25.5, MiBAvg: 102.4,
		Folder: "/data/projA", Group: "lab", TiB: 0.025, FileCount: 255, DirSize: 27380416512,
	}
	if _, err := ix.writeCSV([]Hotspot{want}, outDir, folder); err != nil {
		t.Fatalf("writeCSV() error = %v", err)
	}

	// The walker binary does not exist, so any attempt to re-walk fails.
	opts := Options{Folder: folder, OutputDir: outDir, PwalkBin: "/nonexistent/pwalk"}
	res, err := ix.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Reused {
		t.Fatal("Run() did not reuse the existing report")
	}
	if len(res.Hotspots) != 1 || res.Hotspots[0] != want {
		t.Errorf("Run() hotspots = %+v, want %+v", res.Hotspots, want)
	}

	opts.Force = true
	if _, err := ix.Run(context.Background(), opts); err == nil {
		t.Error("Run() with Force reused the report instead of re-walking")
	}
}

func TestDaysSince(t *testing.T) {
	now := testutil.FixedClock().Now()
	if d := daysSince(now, now.Unix()-3*86400); d != 3 {
		t.Errorf("daysSince() = %d, want 3", d)
	}
	if d := daysSince(now, now.Unix()+86400); d != 0 {
		t.Errorf("future timestamp: daysSince() = %d, want 0", d)
	}
}

func TestReportName(t *testing.T) {
	dir := t.TempDir()
	mtab := filepath.Join(dir, "mounts")
	contents := "rootfs / rootfs rw 0 0\n" +
		"beegfs /mnt/science beegfs rw 0 0\n" +
		"nfs /mnt/science/shared nfs rw 0 0\n"
	if err := os.WriteFile(mtab, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	ix := &Indexer{clock: testutil.FixedClock(), logger: &froster.NopLogger{}, mtab: mtab}

	t.Run("tags with the longest matching mount", func(t *testing.T) {
		got := ix.reportName("/mnt/science/shared/projA")
		want := "@shared+mnt+science+shared+projA.csv"
		if got != want {
			t.Errorf("reportName() = %q, want %q", got, want)
		}
	})

	t.Run("root filesystem gets the root tag", func(t *testing.T) {
		if got := ix.reportName("/home/alice"); got != "@root+home+alice.csv" {
			t.Errorf("reportName() = %q", got)
		}
	})

	t.Run("long names are truncated to a legal filename", func(t *testing.T) {
		got := ix.reportName("/" + strings.Repeat("deep/", 100) + "leaf")
		if len(got) != 255 {
			t.Errorf("len(reportName()) = %d, want 255", len(got))
		}
		if !strings.HasSuffix(got, ".csv") {
			t.Errorf("reportName() = %q lost its extension", got)
		}
	})

	t.Run("similar mount does not match by prefix alone", func(t *testing.T) {
		// /mnt/sciencelab is not under /mnt/science.
		if got := ix.mountTag("/mnt/sciencelab/data"); got != "root" {
			t.Errorf("mountTag() = %q, want root", got)
		}
	})
}
