package nwbfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// BinaryReader shells out to an external metadata-dump CLI (an h5dump-
// equivalent for the primary low-level pass, or a pynwb-equivalent CLI for
// the fallback pass) and parses its JSON output, the same external-process
// wrapper style as converter.BinaryConverter and inspector.BinaryInspector.
type BinaryReader struct {
	command string
	timeout time.Duration
}

func NewBinaryReader(command string, timeout time.Duration) *BinaryReader {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &BinaryReader{command: command, timeout: timeout}
}

func (r *BinaryReader) Read(ctx context.Context, nwbPath string) (map[string]any, error) {
	if r.command == "" {
		return nil, fmt.Errorf("nwbfile: no reader binary configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, r.command, "--dump-metadata", nwbPath)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nwbfile: reader process failed: %w", err)
	}

	var info map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("nwbfile: parse reader output: %w", err)
	}
	return normalizeExperimenterList(info), nil
}

// normalizeExperimenterList enforces spec §4.6's "experimenter always a
// list" invariant regardless of what the underlying tool emitted.
func normalizeExperimenterList(info map[string]any) map[string]any {
	v, ok := info["experimenter"]
	if !ok {
		return info
	}
	switch t := v.(type) {
	case string:
		info["experimenter"] = []any{t}
	}
	return info
}
