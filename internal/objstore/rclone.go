package objstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"froster-go/internal/froster"
)

// Rclone wraps the external transfer tool. The session is injected via
// RCLONE_S3_* environment variables, so the same ":s3:bucket/prefix"
// remote spec works against every provider.
type Rclone struct {
	bin     string
	session Session
	logger  froster.Logger
}

// NewRclone creates a runner for the given binary; an empty bin means
// "rclone" on PATH.
func NewRclone(bin string, session Session, logger froster.Logger) *Rclone {
	if bin == "" {
		bin = "rclone"
	}
	return &Rclone{bin: bin, session: session, logger: logger}
}

// rcloneProviders maps froster provider names onto rclone's S3
// provider identifiers.
var rcloneProviders = map[string]string{
	"aws":    "AWS",
	"wasabi": "Wasabi",
	"gcs":    "GCS",
	"idrive": "IDrive",
	"ceph":   "Ceph",
	"minio":  "Minio",
	"other":  "Other",
}

func (r *Rclone) env(class froster.StorageClass) []string {
	provider := rcloneProviders[r.session.Provider]
	if provider == "" {
		provider = "Other"
	}
	env := append(os.Environ(),
		"RCLONE_S3_PROVIDER="+provider,
		"RCLONE_S3_REGION="+r.session.Region,
		"RCLONE_S3_ENV_AUTH=true",
	)
	if r.session.Profile != "" {
		env = append(env, "RCLONE_S3_PROFILE="+r.session.Profile)
	}
	if r.session.Endpoint != "" {
		env = append(env, "RCLONE_S3_ENDPOINT="+r.session.Endpoint)
	}
	if class != "" {
		env = append(env, "RCLONE_S3_STORAGE_CLASS="+string(class))
	}
	return env
}

// logLine is one machine-readable rclone log record. Final transfer
// statistics arrive in the stats field of the closing lines.
type logLine struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
	Stats *struct {
		Transfers int64  `json:"transfers"`
		Bytes     int64  `json:"bytes"`
		Checks    int64  `json:"checks"`
		Errors    int64  `json:"errors"`
		LastError string `json:"lastError"`
	} `json:"stats"`
}

// run executes rclone and returns the last stats block seen in its
// JSON log along with the process error, if any.
func (r *Rclone) run(ctx context.Context, env []string, args ...string) (froster.CopyStats, error) {
	args = append(args, "--use-json-log", "--log-level", "INFO", "--stats", "10s")

	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Env = env
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return froster.CopyStats{}, fmt.Errorf("wiring rclone stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return froster.CopyStats{}, fmt.Errorf("starting %s: %w", r.bin, err)
	}

	var stats froster.CopyStats
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var line logLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			r.logger.Debug("unparseable rclone output", "line", sc.Text())
			continue
		}
		if line.Level == "error" {
			r.logger.Warn("rclone error", "msg", line.Msg)
		}
		if line.Stats != nil {
			stats = froster.CopyStats{
				Transfers: line.Stats.Transfers,
				Bytes:     line.Stats.Bytes,
				Checks:    line.Stats.Checks,
				Errors:    line.Stats.Errors,
				LastError: line.Stats.LastError,
			}
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return stats, fmt.Errorf("%w: %v", froster.ErrUserAbort, ctx.Err())
	}
	return stats, waitErr
}

// Copy transfers files between src and dst. A failed transfer shows up
// as a non-zero Errors count; the caller decides whether that is
// fatal.
func (r *Rclone) Copy(ctx context.Context, src, dst string, opts froster.CopyOptions) (froster.CopyStats, error) {
	args := []string{"copy", src, dst}
	if opts.MaxDepth > 0 {
		args = append(args, "--max-depth", strconv.Itoa(opts.MaxDepth))
	}
	if opts.Links {
		args = append(args, "--links")
	}
	for _, pattern := range opts.Excludes {
		args = append(args, "--exclude", pattern)
	}

	stats, err := r.run(ctx, r.env(opts.StorageClass), args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The process ran and failed; the stats carry the reason.
			if stats.Errors == 0 {
				stats.Errors = 1
				stats.LastError = exitErr.Error()
			}
			return stats, nil
		}
		return stats, err
	}
	return stats, nil
}

// Checksum verifies the objects at dstPrefix against a local md5
// manifest file. True iff every listed file exists remotely with a
// matching sum and nothing errored.
func (r *Rclone) Checksum(ctx context.Context, md5File, dstPrefix string, opts froster.ChecksumOptions) (bool, error) {
	args := []string{"checksum", "md5", md5File, dstPrefix}
	if opts.MaxDepth > 0 {
		args = append(args, "--max-depth", strconv.Itoa(opts.MaxDepth))
	}

	stats, err := r.run(ctx, r.env(""), args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Mismatches and missing files exit non-zero.
			r.logger.Warn("checksum mismatch", "md5_file", md5File, "prefix", dstPrefix,
				"errors", stats.Errors, "last_error", stats.LastError)
			return false, nil
		}
		return false, err
	}
	return stats.Errors == 0, nil
}
