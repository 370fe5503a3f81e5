package index

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"froster-go/internal/froster"
)

// runPwalk invokes the parallel tree walker on folder and streams its
// per-inode CSV into outPath. Lines on stderr naming locked
// directories are collected and reported as warnings, not failures.
func runPwalk(ctx context.Context, bin, folder, outPath string, logger froster.Logger) ([]string, error) {
	if bin == "" {
		bin = "pwalk"
	}

	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("creating walker output: %w", err)
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, bin, "--NoSnap", folder)
	cmd.Stdout = out
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("wiring walker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}

	var locked []string
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if rest, ok := strings.CutPrefix(line, "Locked Dir:"); ok {
			locked = append(locked, strings.TrimSpace(rest))
			continue
		}
		logger.Debug("walker", "line", line)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return locked, fmt.Errorf("%w: %v", froster.ErrUserAbort, ctx.Err())
		}
		return locked, fmt.Errorf("walker failed on %s: %w", folder, err)
	}
	return locked, nil
}
