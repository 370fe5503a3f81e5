package index

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"froster-go/internal/froster"
)

const (
	// DefaultMinGiB filters out directories too small to be worth
	// archiving on their own.
	DefaultMinGiB = 10
	// DefaultMinMiBAvg filters out directories dominated by small
	// files, which archive poorly to cold storage.
	DefaultMinMiBAvg = 10
	// DefaultMaxEntries caps the report so interactive review stays
	// tractable on very large filesystems.
	DefaultMaxEntries = 5000
)

// Options controls one indexing run over a single folder tree.
type Options struct {
	Folder     string
	MinGiB     float64
	MinMiBAvg  float64
	MaxEntries int
	PwalkBin   string
	// OutputDir receives the hotspots CSV, normally the shared or
	// per-user data directory.
	OutputDir string
	// RawCopyDir, when set, receives a copy of the raw walker output
	// for offline analysis.
	RawCopyDir string
	// Force re-walks the tree even when a report from a previous run
	// exists. Without it the existing report is loaded and returned.
	Force bool
}

// Hotspot is one candidate archival directory.
type Hotspot struct {
	User      string
	AccDays   int
	ModDays   int
	GiB       float64
	MiBAvg    float64
	Folder    string
	Group     string
	TiB       float64
	FileCount int64
	DirSize   int64
}

// Result of an indexing run.
type Result struct {
	Hotspots   []Hotspot
	CSVPath    string
	LockedDirs []string
	Scanned    int
	// Reused is set when the hotspots come from a previous report
	// instead of a fresh walk.
	Reused bool
}

// Indexer walks filesystem trees and reports archival candidates.
type Indexer struct {
	clock  froster.Clock
	logger froster.Logger
	// mtab is the mount table consulted for the report filename tag.
	mtab string
}

func NewIndexer(clock froster.Clock, logger froster.Logger) *Indexer {
	if logger == nil {
		logger = &froster.NopLogger{}
	}
	return &Indexer{clock: clock, logger: logger, mtab: "/proc/self/mounts"}
}

// Run walks opts.Folder, computes per-directory aggregates, filters
// them down to hotspots and writes the report CSV. Locked directories
// are reported, never fatal.
func (ix *Indexer) Run(ctx context.Context, opts Options) (*Result, error) {
	folder, err := filepath.Abs(opts.Folder)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", froster.ErrLocalFS, opts.Folder, err)
	}
	if opts.MinGiB <= 0 {
		opts.MinGiB = DefaultMinGiB
	}
	if opts.MinMiBAvg <= 0 {
		opts.MinMiBAvg = DefaultMinMiBAvg
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}

	reportPath := filepath.Join(opts.OutputDir, ix.reportName(folder))
	if !opts.Force {
		if hotspots, err := readReport(reportPath); err == nil {
			ix.logger.Info("reusing hotspots report", "path", reportPath)
			return &Result{Hotspots: hotspots, CSVPath: reportPath, Reused: true}, nil
		}
	}

	raw, err := os.CreateTemp("", "froster-pwalk-*.csv")
	if err != nil {
		return nil, fmt.Errorf("creating walker scratch file: %w", err)
	}
	raw.Close()
	defer os.Remove(raw.Name())

	locked, err := runPwalk(ctx, opts.PwalkBin, folder, raw.Name(), ix.logger)
	if err != nil {
		return nil, err
	}
	for _, dir := range locked {
		ix.logger.Warn("directory not readable during walk", "folder", dir)
	}

	if opts.RawCopyDir != "" {
		if err := ix.copyRaw(raw.Name(), opts.RawCopyDir, folder); err != nil {
			ix.logger.Warn("keeping raw walker output failed", "error", err)
		}
	}

	rows, err := parseWalkerCSV(raw.Name(), ix.logger)
	if err != nil {
		return nil, err
	}

	hotspots := ix.project(rows, opts)
	csvPath, err := ix.writeCSV(hotspots, opts.OutputDir, folder)
	if err != nil {
		return nil, err
	}

	return &Result{
		Hotspots:   hotspots,
		CSVPath:    csvPath,
		LockedDirs: locked,
		Scanned:    len(rows),
	}, nil
}

// project converts directory rows to hotspots, applying the size and
// average-file-size thresholds and the entry cap. Access and modify
// ages come from a rescan of each directory's direct children, since
// the walk itself updates directory atimes.
func (ix *Indexer) project(rows []dirRow, opts Options) []Hotspot {
	const gib = float64(1 << 30)
	const mib = float64(1 << 20)
	now := ix.clock.Now()

	var out []Hotspot
	for _, row := range rows {
		giB := float64(row.Bytes) / gib
		if giB < opts.MinGiB {
			continue
		}
		var avg float64
		if row.FileCount > 0 {
			avg = float64(row.Bytes) / float64(row.FileCount) / mib
		}
		if avg < opts.MinMiBAvg {
			continue
		}

		atime, mtime := newestChildTimes(row.Folder, row.Atime, row.Mtime)
		out = append(out, Hotspot{
			User:      froster.UIDName(row.UID),
			AccDays:   daysSince(now, atime),
			ModDays:   daysSince(now, mtime),
			GiB:       round3(giB),
			MiBAvg:    round3(avg),
			Folder:    row.Folder,
			Group:     froster.GIDName(row.GID),
			TiB:       round3(giB / 1024),
			FileCount: row.FileCount,
			DirSize:   row.Bytes,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].GiB != out[j].GiB {
			return out[i].GiB > out[j].GiB
		}
		return out[i].Folder < out[j].Folder
	})
	if len(out) > opts.MaxEntries {
		out = out[:opts.MaxEntries]
	}
	return out
}

// newestChildTimes rescans the direct children of folder and returns
// the newest access and modify times seen, falling back to the walker
// values when the directory can no longer be read.
func newestChildTimes(folder string, atime, mtime int64) (int64, int64) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return atime, mtime
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		at, mt := froster.AtimeMtime(info)
		if at > atime {
			atime = at
		}
		if mt > mtime {
			mtime = mt
		}
	}
	return atime, mtime
}

func daysSince(now time.Time, unix int64) int {
	d := now.Unix() - unix
	if d < 0 {
		return 0
	}
	return int(d / 86400)
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

var hotspotHeader = []string{
	"User", "AccD", "ModD", "GiB", "MiBAvg",
	"Folder", "Group", "TiB", "FileCount", "DirSize",
}

func (ix *Indexer) writeCSV(hotspots []Hotspot, dir, folder string) (string, error) {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", fmt.Errorf("creating hotspots directory: %w", err)
	}
	path := filepath.Join(dir, ix.reportName(folder))

	tmp, err := os.CreateTemp(dir, ".hotspots-*")
	if err != nil {
		return "", fmt.Errorf("creating hotspots file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(hotspotHeader); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing hotspots header: %w", err)
	}
	for _, h := range hotspots {
		record := []string{
			h.User,
			strconv.Itoa(h.AccDays),
			strconv.Itoa(h.ModDays),
			strconv.FormatFloat(h.GiB, 'f', 3, 64),
			strconv.FormatFloat(h.MiBAvg, 'f', 3, 64),
			h.Folder,
			h.Group,
			strconv.FormatFloat(h.TiB, 'f', 3, 64),
			strconv.FormatInt(h.FileCount, 10),
			strconv.FormatInt(h.DirSize, 10),
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return "", fmt.Errorf("writing hotspots row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing hotspots: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing hotspots file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publishing hotspots file: %w", err)
	}
	return path, nil
}

// readReport loads hotspots back from a report written by a previous
// run, so repeated index invocations need not re-walk the tree.
func readReport(path string) ([]Hotspot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(header) != len(hotspotHeader) || header[0] != hotspotHeader[0] {
		return nil, fmt.Errorf("unrecognized hotspots header in %s", path)
	}

	var out []Hotspot
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading hotspots report %s: %w", path, err)
		}
		h := Hotspot{User: rec[0], Folder: rec[5], Group: rec[6]}
		h.AccDays, _ = strconv.Atoi(rec[1])
		h.ModDays, _ = strconv.Atoi(rec[2])
		h.GiB, _ = strconv.ParseFloat(rec[3], 64)
		h.MiBAvg, _ = strconv.ParseFloat(rec[4], 64)
		h.TiB, _ = strconv.ParseFloat(rec[7], 64)
		h.FileCount, _ = strconv.ParseInt(rec[8], 10, 64)
		h.DirSize, _ = strconv.ParseInt(rec[9], 10, 64)
		out = append(out, h)
	}
	return out, nil
}

// reportName derives a stable filename from the indexed folder so
// repeated runs over the same tree overwrite the same report. The
// filesystem mount point is kept as a leading tag so reports from
// different filesystems never collide after truncation.
func (ix *Indexer) reportName(folder string) string {
	tag := ix.mountTag(folder)
	flat := strings.ReplaceAll(strings.TrimPrefix(folder, string(os.PathSeparator)), string(os.PathSeparator), "+")
	name := "@" + tag + "+" + flat
	if len(name) > 255-len(".csv") {
		name = name[:255-len(".csv")]
	}
	return name + ".csv"
}

// mountTag returns the base name of the longest mount point that is a
// prefix of folder, or "root" for the root filesystem.
func (ix *Indexer) mountTag(folder string) string {
	best := "/"
	f, err := os.Open(ix.mtab)
	if err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) < 2 {
				continue
			}
			mp := fields[1]
			if mp == "/" {
				continue
			}
			if strings.HasPrefix(folder+"/", mp+"/") && len(mp) > len(best) {
				best = mp
			}
		}
	}
	if best == "/" {
		return "root"
	}
	return filepath.Base(best)
}

func (ix *Indexer) copyRaw(src, dir, folder string) error {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(ix.reportName(folder), ".csv") + ".pwalk.csv"
	return os.WriteFile(filepath.Join(dir, name), data, 0o664)
}
