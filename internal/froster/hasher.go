package froster

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// HashEntry is one line of a froster md5 file.
type HashEntry struct {
	Sum  string // 32 hex chars
	Name string // basename
}

// HashWorkers returns the hashing pool size for a core budget.
func HashWorkers(cores int) int {
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	if cores < 4 {
		return 4
	}
	return cores
}

// HashFolder computes md5 sums of the regular files directly inside
// folder, excluding the froster metadata files, and writes
// "<hex>  <basename>" lines to outName inside the folder. Output order
// is stable (sorted by name). Returns the number of lines written; an
// empty result removes the file and is an error.
func HashFolder(folder, outName string, workers int, logger Logger) (int, error) {
	dirents, err := os.ReadDir(folder)
	if err != nil {
		return 0, fmt.Errorf("reading folder: %w", err)
	}

	var names []string
	for _, d := range dirents {
		if !d.Type().IsRegular() || IsMetadataFile(d.Name()) {
			continue
		}
		names = append(names, d.Name())
	}
	sort.Strings(names)

	if workers <= 0 {
		workers = HashWorkers(0)
	}
	if workers > len(names) && len(names) > 0 {
		workers = len(names)
	}

	sums := make([]string, len(names))
	errs := make([]error, len(names))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sums[i], errs[i] = Md5File(filepath.Join(folder, names[i]))
			}
		}()
	}
	for i := range names {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return 0, fmt.Errorf("%w: hashing %s: %v", ErrLocalFS, names[i], err)
		}
	}

	outPath := filepath.Join(folder, outName)
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("creating hash file: %w", err)
	}
	w := bufio.NewWriter(f)
	for i, name := range names {
		fmt.Fprintf(w, "%s  %s\n", sums[i], name)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("writing hash file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing hash file: %w", err)
	}

	if len(names) == 0 {
		os.Remove(outPath)
		logger.Warn("no files to hash", "folder", folder)
		return 0, fmt.Errorf("no hashable files in %s", folder)
	}
	return len(names), nil
}

// Md5File returns the hex md5 of a file's content.
func Md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Md5String returns the hex md5 of a string.
func Md5String(s string) (string, error) {
	h := md5.New()
	if _, err := io.WriteString(h, s); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadHashFile parses a froster md5 file.
func ReadHashFile(path string) ([]HashEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hash file: %w", err)
	}
	defer f.Close()

	var entries []HashEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		sum, name, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != 32 {
			return nil, fmt.Errorf("malformed hash line %q in %s", line, path)
		}
		entries = append(entries, HashEntry{Sum: sum, Name: name})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading hash file: %w", err)
	}
	return entries, nil
}
