// Package converter is the black-box NeuroConv/PyNWB-equivalent external
// collaborator described in spec §1/§6: invoked with an input path and a
// metadata dictionary, returning an NWB file path or a typed
// ConversionError. The actual conversion binary is out of scope for this
// core; this package defines the contract and a process-exec-backed
// implementation, grounded on the teacher's internal/platform/localmedia
// "hard way glue around system binaries" style.
package converter

import (
	"context"
	"fmt"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

// ProgressEvent is emitted at 10% granularity during a conversion run
// (spec §4.5).
type ProgressEvent struct {
	Percent int
	Stage   string
}

// ProgressFunc receives ProgressEvents; nil is a valid no-op receiver.
type ProgressFunc func(ProgressEvent)

// ConversionError is the typed, human-readable failure the converter
// contract raises on failure (spec §6).
type ConversionError struct {
	Message string
	Cause   error
}

func (e *ConversionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("conversion failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("conversion failed: %s", e.Message)
}

func (e *ConversionError) Unwrap() error { return e.Cause }

// Converter is the external collaborator contract (spec §6 "Converter
// contract"): convert(input_path, metadata_dict) -> nwb_path.
type Converter interface {
	Convert(ctx context.Context, inputPath string, metadata map[string]any, outDir string, onProgress ProgressFunc) (nwbPath string, err error)
}

// BinaryConverter shells out to an external conversion command (e.g. a
// neuroconv CLI wrapper) the way the teacher's localmedia.Tools wraps
// soffice/ffmpeg: synchronous, deterministic, timeout-bounded.
type BinaryConverter struct {
	log     *logger.Logger
	command string
	timeout time.Duration
}

// NewBinaryConverter builds a converter that invokes command with
// "--input <path> --metadata <json-file> --out <outDir>/<basename>.nwb" and
// expects the produced NWB file at that --out path.
func NewBinaryConverter(log *logger.Logger, command string, timeout time.Duration) *BinaryConverter {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &BinaryConverter{log: log.With("component", "converter"), command: command, timeout: timeout}
}

func (c *BinaryConverter) Convert(ctx context.Context, inputPath string, metadata map[string]any, outDir string, onProgress ProgressFunc) (string, error) {
	if c.command == "" {
		return "", &ConversionError{Message: "no converter binary configured"}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	emit(onProgress, 0, "starting")

	metaPath, cleanup, err := writeMetadataFile(metadata, outDir)
	if err != nil {
		return "", &ConversionError{Message: "writing metadata file", Cause: err}
	}
	defer cleanup()

	emit(onProgress, 10, "invoking converter")

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	nwbPath := filepath.Join(outDir, base+".nwb")

	cmd := exec.CommandContext(callCtx, c.command,
		"--input", inputPath,
		"--metadata", metaPath,
		"--out", nwbPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", &ConversionError{Message: "converter process failed: " + string(output), Cause: err}
	}

	emit(onProgress, 100, "complete")
	return nwbPath, nil
}

func emit(onProgress ProgressFunc, percent int, stage string) {
	if onProgress != nil {
		onProgress(ProgressEvent{Percent: percent, Stage: stage})
	}
}

// DetectFormat makes a best-effort guess at the recording format from the
// input path's shape (spec §4.5 "redundant check" — the Conversion Agent
// re-verifies what the Conversation Agent already inferred). Real format
// sniffing belongs to the external converter/LLM; this is the
// filename-only fallback.
func DetectFormat(inputPath string) (format string, confidence int) {
	lower := strings.ToLower(inputPath)
	switch {
	case strings.Contains(lower, ".imec") || strings.Contains(lower, "spikeglx") || strings.HasSuffix(lower, ".bin"):
		return "spikeglx", 70
	case strings.Contains(lower, "openephys") || strings.Contains(lower, ".continuous") || strings.Contains(lower, ".oebin"):
		return "openephys", 70
	case strings.HasSuffix(lower, ".nwb"):
		return "nwb", 95
	default:
		return "", 0
	}
}

func writeMetadataFile(metadata map[string]any, outDir string) (path string, cleanup func(), err error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", func() {}, err
	}
	f, err := os.CreateTemp(outDir, "metadata-*.json")
	if err != nil {
		return "", func() {}, err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(metadata); err != nil {
		os.Remove(f.Name())
		return "", func() {}, err
	}
	return f.Name(), func() { _ = os.Remove(f.Name()) }, nil
}
