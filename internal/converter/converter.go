// Package converter drives the external drawing-format converter as a
// subprocess, one invocation per source file.
package converter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/northshore/blockindex/internal/metrics"
	"github.com/northshore/blockindex/pkg/types"
)

// FailureKind classifies a per-file conversion failure.
type FailureKind string

const (
	FailureTimeout       FailureKind = "Timeout"
	FailureToolError     FailureKind = "ToolFailure"
	FailureCorruptInput  FailureKind = "CorruptInput"
	FailureOutputMissing FailureKind = "OutputMissing"
)

// Failure is a typed conversion failure with captured diagnostics.
type Failure struct {
	Kind     FailureKind
	ExitCode int
	Output   string // Captured stderr/stdout tail
}

func (f *Failure) Error() string {
	if f.Kind == FailureToolError || f.Kind == FailureCorruptInput {
		return fmt.Sprintf("converter failed (%s, exit %d): %s", f.Kind, f.ExitCode, f.Output)
	}
	return fmt.Sprintf("converter failed (%s)", f.Kind)
}

// Result is the outcome of converting one drawing file: either the path to
// the produced interchange file or a typed failure. It is owned by the
// stage that produced it and read-only afterward.
type Result struct {
	Source   types.DrawingFile
	Output   string // Interchange file path on success
	Failure  *Failure
	Duration time.Duration
}

// Ok reports whether the conversion produced an interchange file.
func (r *Result) Ok() bool { return r.Failure == nil }

// Converter invokes the external converter binary. The binary's existence
// is verified once at construction; a missing binary is a fatal
// configuration error, never a per-file failure.
type Converter struct {
	binary  string
	outDir  string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Converter. It fails if the binary does not exist or the
// output directory cannot be created.
func New(binary, outDir string, timeout time.Duration, logger *zap.Logger) (*Converter, error) {
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("converter binary %q: %w", binary, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating converter output dir: %w", err)
	}
	return &Converter{
		binary:  binary,
		outDir:  outDir,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "converter")),
	}, nil
}

// outputDirFor derives a per-input output directory from the input path so
// concurrent conversions of files sharing a basename cannot collide.
func (c *Converter) outputDirFor(file types.DrawingFile) string {
	sum := sha256.Sum256([]byte(file.Path))
	return filepath.Join(c.outDir, hex.EncodeToString(sum[:4]))
}

// Convert runs one converter invocation: <binary> <outputDir> <inputFile>.
// Success requires exit code 0 and a same-named interchange file in the
// output directory before the timeout fires. The invocation runs on its
// own timeout, detached from pipeline cancellation, so an already-started
// conversion is never killed mid-write.
func (c *Converter) Convert(file types.DrawingFile) *Result {
	start := time.Now()
	result := &Result{Source: file}

	outDir := c.outputDirFor(file)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		result.Failure = &Failure{Kind: FailureToolError, Output: err.Error()}
		result.Duration = time.Since(start)
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, outDir, file.Path)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	// Converters spawn helper processes that inherit the output pipes.
	// The invocation gets its own process group so the deadline kills the
	// whole tree, and WaitDelay bounds how long Wait lingers on pipes a
	// straggler still holds open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	result.Duration = time.Since(start)
	metrics.ObserveConversion(result.Duration)

	if ctx.Err() == context.DeadlineExceeded {
		c.logger.Warn("conversion timed out",
			zap.String("file", file.Path),
			zap.Duration("timeout", c.timeout))
		result.Failure = &Failure{Kind: FailureTimeout, Output: tail(combined.String())}
		return result
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		result.Failure = &Failure{
			Kind:     classifyToolError(combined.String()),
			ExitCode: exitCode,
			Output:   tail(combined.String()),
		}
		c.logger.Warn("conversion failed",
			zap.String("file", file.Path),
			zap.Int("exit_code", exitCode),
			zap.String("kind", string(result.Failure.Kind)))
		return result
	}

	// Exit 0 without the expected output file is still a failure.
	stem := strings.TrimSuffix(filepath.Base(file.Path), filepath.Ext(file.Path))
	output := filepath.Join(outDir, stem+".dxf")
	if _, err := os.Stat(output); err != nil {
		result.Failure = &Failure{Kind: FailureOutputMissing, Output: tail(combined.String())}
		return result
	}

	result.Output = output
	return result
}

// classifyToolError separates unconvertible input from general tool errors
// by inspecting the converter's diagnostic output.
func classifyToolError(output string) FailureKind {
	lower := strings.ToLower(output)
	for _, marker := range []string{"corrupt", "invalid", "not a dwg", "unrecognized format"} {
		if strings.Contains(lower, marker) {
			return FailureCorruptInput
		}
	}
	return FailureToolError
}

// tail keeps the last portion of captured output for diagnostics.
func tail(s string) string {
	const max = 2048
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
