// Package slurm submits long-running froster operations as batch jobs
// so interactive sessions are not tied up by multi-hour transfers.
package slurm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"froster-go/internal/config"
	"froster-go/internal/froster"
)

// ExitRequeue is the process exit code that asks the scheduler bridge
// to submit a deferred follow-up job instead of treating the run as
// failed. The restore engine uses it while objects thaw.
const ExitRequeue = 64

// Detect reports whether batch submission is both available and
// appropriate: sbatch must be on PATH and we must not already be
// inside a job, which would otherwise recurse.
func Detect() bool {
	if os.Getenv("SLURM_JOB_ID") != "" {
		return false
	}
	_, err := exec.LookPath("sbatch")
	return err == nil
}

// JobSpec describes one batch job wrapping a froster invocation.
type JobSpec struct {
	// Kind names the wrapped operation (archive, restore, delete) and
	// ends up in the job name.
	Kind  string
	Label string
	// Argv is the full command to re-run inside the job, normally the
	// current invocation with --no-slurm appended.
	Argv []string
	Cores int
	// MemMiB is the requested memory, clamped to the configured
	// per-node maximum.
	MemMiB int
	// Begin delays the job start, used to wake up after a Glacier
	// retrieval window.
	Begin time.Duration
}

// Batcher builds and submits batch scripts.
type Batcher struct {
	cfg    config.SlurmConfig
	logDir string
	logger froster.Logger
}

func NewBatcher(cfg config.SlurmConfig, logDir string, logger froster.Logger) *Batcher {
	if logger == nil {
		logger = &froster.NopLogger{}
	}
	return &Batcher{cfg: cfg, logDir: logDir, logger: logger}
}

// BuildScript renders the sbatch script for spec. The wrapped command
// is re-entrant: it is the same argv the user ran, so a requeued or
// retried job picks up exactly where the filesystem and remote state
// left off.
func (b *Batcher) BuildScript(spec JobSpec) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&sb, "#SBATCH --job-name=froster:%s:%s\n", spec.Kind, sanitizeLabel(spec.Label))
	fmt.Fprintf(&sb, "#SBATCH --cpus-per-task=%d\n", max(spec.Cores, 1))
	fmt.Fprintf(&sb, "#SBATCH --mem=%dM\n", b.memMiB(spec.MemMiB))
	fmt.Fprintf(&sb, "#SBATCH --requeue\n")
	fmt.Fprintf(&sb, "#SBATCH --output=%s\n", b.logPath(spec))
	if b.cfg.Walltime != "" {
		fmt.Fprintf(&sb, "#SBATCH --time=%s\n", b.cfg.Walltime)
	}
	if b.cfg.Partition != "" {
		fmt.Fprintf(&sb, "#SBATCH --partition=%s\n", b.cfg.Partition)
	}
	if b.cfg.QOS != "" {
		fmt.Fprintf(&sb, "#SBATCH --qos=%s\n", b.cfg.QOS)
	}
	if spec.Begin > 0 {
		fmt.Fprintf(&sb, "#SBATCH --begin=now+%d\n", int(spec.Begin.Seconds()))
	}
	sb.WriteString("\n")
	for _, line := range b.cfg.ScratchSetup {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString(shellQuote(spec.Argv))
	sb.WriteString("\n")
	for _, line := range b.cfg.ScratchTeardown {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Submit pipes the rendered script into sbatch and returns the job id.
func (b *Batcher) Submit(ctx context.Context, spec JobSpec) (string, error) {
	script := b.BuildScript(spec)

	cmd := exec.CommandContext(ctx, "sbatch", "--parsable")
	cmd.Stdin = strings.NewReader(script)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", froster.ErrUserAbort, ctx.Err())
		}
		return "", fmt.Errorf("sbatch failed: %w", err)
	}
	jobID := strings.TrimSpace(string(out))
	// --parsable prints "jobid[;cluster]".
	if i := strings.IndexByte(jobID, ';'); i >= 0 {
		jobID = jobID[:i]
	}
	b.logger.Info("batch job submitted", "jobID", jobID, "kind", spec.Kind)
	return jobID, nil
}

func (b *Batcher) memMiB(requested int) int {
	if requested <= 0 {
		requested = 4096
	}
	if b.cfg.MaxNodeMemMiB > 0 && requested > b.cfg.MaxNodeMemMiB {
		return b.cfg.MaxNodeMemMiB
	}
	return requested
}

func (b *Batcher) logPath(spec JobSpec) string {
	dir := b.logDir
	if dir == "" {
		dir = "."
	}
	return fmt.Sprintf("%s/froster-%s-%%j.out", dir, spec.Kind)
}

// sanitizeLabel keeps job names readable in squeue output.
func sanitizeLabel(label string) string {
	label = strings.ReplaceAll(label, "/", "+")
	label = strings.ReplaceAll(label, " ", "_")
	if len(label) > 64 {
		label = label[:64]
	}
	if label == "" {
		label = "run"
	}
	return label
}

// shellQuote renders argv as a single safely quoted shell command.
func shellQuote(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\$&|;<>()*?[]{}~#") {
			parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}
