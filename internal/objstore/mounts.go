package objstore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"froster-go/internal/froster"
)

// fuseType is the filesystem type rclone mounts register in the mount
// table.
const fuseType = "fuse.rclone"

// Mounter attaches and detaches archive prefixes through the FUSE
// helper, and reads the OS mount table.
type Mounter struct {
	rcloneBin     string
	fusermountBin string
	session       Session
	logger        froster.Logger

	// mtab is the mount table path, overridable in tests.
	mtab string
}

// NewMounter creates a Mounter; empty binary paths fall back to PATH
// lookups.
func NewMounter(rcloneBin, fusermountBin string, session Session, logger froster.Logger) *Mounter {
	if rcloneBin == "" {
		rcloneBin = "rclone"
	}
	if fusermountBin == "" {
		fusermountBin = "fusermount"
	}
	return &Mounter{
		rcloneBin:     rcloneBin,
		fusermountBin: fusermountBin,
		session:       session,
		logger:        logger,
		mtab:          "/proc/self/mounts",
	}
}

// Mount launches a detached read-only rclone mount of src at
// mountpoint. Returns once the daemon has forked; callers poll
// ListMounts when they need the mount to be live.
func (m *Mounter) Mount(ctx context.Context, src, mountpoint string) error {
	rc := NewRclone(m.rcloneBin, m.session, m.logger)
	cmd := exec.CommandContext(ctx, m.rcloneBin,
		"mount", src, mountpoint,
		"--read-only", "--allow-non-empty", "--daemon")
	cmd.Env = rc.env("")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rclone mount failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	m.logger.Info("mount daemon started", "source", src, "mountpoint", mountpoint)
	return nil
}

// Unmount detaches mountpoint using the FUSE unmount utility.
func (m *Mounter) Unmount(ctx context.Context, mountpoint string) error {
	cmd := exec.CommandContext(ctx, m.fusermountBin, "-u", mountpoint)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s -u failed: %v: %s", m.fusermountBin, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ListMounts reads the mount table and returns the mount points of all
// rclone FUSE mounts. Octal escapes in mount paths (spaces become
// \040) are decoded.
func (m *Mounter) ListMounts() ([]string, error) {
	f, err := os.Open(m.mtab)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	defer f.Close()

	var mounts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || fields[2] != fuseType {
			continue
		}
		mounts = append(mounts, unescapeMount(fields[1]))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parsing mount table: %w", err)
	}
	return mounts, nil
}

// unescapeMount decodes the octal escapes used in /proc mount entries.
func unescapeMount(s string) string {
	replacer := strings.NewReplacer(
		`\040`, " ",
		`\011`, "\t",
		`\012`, "\n",
		`\134`, `\`,
	)
	return replacer.Replace(s)
}
