package index

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"froster-go/internal/froster"
)

// dirRow is one directory from the walker output. File rows are
// dropped during parsing; only directory aggregates survive.
type dirRow struct {
	Folder    string
	UID       int
	GID       int
	Atime     int64
	Mtime     int64
	FileCount int64
	Bytes     int64
}

// walker CSV layout: inode, parent, depth, filename, extension, uid,
// gid, size, dev, blocks, nlinks, mode, atime, mtime, ctime,
// file-count, dir-size. File rows carry a file-count of -1.
const (
	colFilename  = 3
	colUID       = 5
	colGID       = 6
	colAtime     = 12
	colMtime     = 13
	colFileCount = 15
	colDirSize   = 16
	colCount     = 17
)

// parseWalkerCSV reads the raw walker output, which is not valid
// UTF-8 for filesystems with legacy names, and keeps only directory
// rows with at least one file and a non-zero size.
func parseWalkerCSV(path string, logger froster.Logger) ([]dirRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening walker output: %w", err)
	}
	defer f.Close()

	// The walker emits raw filesystem bytes. Decoding as ISO-8859-1
	// maps every byte to a valid rune so the CSV reader never chokes.
	dec := transform.NewReader(f, charmap.ISO8859_1.NewDecoder())
	r := csv.NewReader(dec)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []dirRow
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warn("skipping unparseable walker row", "line", line, "error", err)
			continue
		}
		if len(record) < colCount {
			continue
		}
		row, ok := parseRow(record)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseRow keeps directory rows: file rows carry a file count of -1,
// and zero-byte directories have nothing to report. A count of zero is
// a valid directory (size may live in hardlinked or special entries).
func parseRow(record []string) (dirRow, bool) {
	count, err := strconv.ParseInt(strings.TrimSpace(record[colFileCount]), 10, 64)
	if err != nil || count < 0 {
		return dirRow{}, false
	}
	bytes, err := strconv.ParseInt(strings.TrimSpace(record[colDirSize]), 10, 64)
	if err != nil || bytes <= 0 {
		return dirRow{}, false
	}
	uid, err := strconv.Atoi(strings.TrimSpace(record[colUID]))
	if err != nil {
		return dirRow{}, false
	}
	gid, err := strconv.Atoi(strings.TrimSpace(record[colGID]))
	if err != nil {
		return dirRow{}, false
	}
	atime, err := strconv.ParseInt(strings.TrimSpace(record[colAtime]), 10, 64)
	if err != nil {
		return dirRow{}, false
	}
	mtime, err := strconv.ParseInt(strings.TrimSpace(record[colMtime]), 10, 64)
	if err != nil {
		return dirRow{}, false
	}
	return dirRow{
		Folder:    strings.TrimSpace(record[colFilename]),
		UID:       uid,
		GID:       gid,
		Atime:     atime,
		Mtime:     mtime,
		FileCount: count,
		Bytes:     bytes,
	}, true
}
