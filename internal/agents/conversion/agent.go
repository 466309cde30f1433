// Package conversion implements the Conversion Agent (spec §4.5): invokes
// the external converter, reports 10%-granularity progress into state, and
// on success dispatches evaluation.run_validation with the produced path.
// Grounded on the teacher's internal/jobs/orchestrator/engine.go
// runInline/progress-percent stage runner.
package conversion

import (
	"context"
	"fmt"

	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

// ConvertPayload is the KindConversionConvert request body.
type ConvertPayload struct {
	InputPath string
	Metadata  map[string]any
	OutDir    string
	// OnProgress is optional; callers that don't need live progress may
	// leave it nil.
	OnProgress converter.ProgressFunc
}

// ApplyCorrectionsPayload is the KindConversionApplyFixes request body
// (spec §4.5 apply_corrections).
type ApplyCorrectionsPayload struct {
	InputPath         string
	Metadata          map[string]any
	OutDir            string
	CorrectionContext *domain.CorrectionContext
	OnProgress        converter.ProgressFunc
}

// Agent is the Conversion Agent.
type Agent struct {
	log       *logger.Logger
	converter converter.Converter
	bus       *bus.Bus
}

func New(log *logger.Logger, conv converter.Converter, b *bus.Bus) *Agent {
	return &Agent{log: log.With("component", "agent.conversion"), converter: conv, bus: b}
}

// HandleConvert is the bus.Handler for KindConversionConvert.
func (a *Agent) HandleConvert(ctx context.Context, req bus.Request) (any, error) {
	payload, ok := req.Payload.(ConvertPayload)
	if !ok {
		return nil, fmt.Errorf("conversion: bad payload type %T", req.Payload)
	}
	return a.Convert(ctx, payload.InputPath, payload.Metadata, payload.OutDir, payload.OnProgress)
}

// Convert invokes the external converter with a merged metadata
// dictionary, and on success dispatches evaluation.run_validation,
// returning ITS result directly (spec §2 data flow: Conversion Agent
// dispatches to Evaluation Agent; the result bubbles back to the
// Conversation Agent's original Dispatch call).
func (a *Agent) Convert(ctx context.Context, inputPath string, metadata map[string]any, outDir string, onProgress converter.ProgressFunc) (*evaluation.Result, error) {
	detected, _ := converter.DetectFormat(inputPath)
	if detected == "" {
		a.log.Warn("conversion agent's redundant format check found nothing; proceeding with converter's own detection")
	}

	nwbPath, err := a.converter.Convert(ctx, inputPath, metadata, outDir, onProgress)
	if err != nil {
		return nil, err
	}

	result, err := a.bus.Dispatch(ctx, bus.Request{Kind: bus.KindEvaluationValidate, Payload: evaluation.ValidatePayload{NWBPath: nwbPath}})
	if err != nil {
		return nil, err
	}
	evalResult, ok := result.(*evaluation.Result)
	if !ok {
		return nil, fmt.Errorf("conversion: unexpected evaluation result type %T", result)
	}
	return evalResult, nil
}

// HandleApplyCorrections is the bus.Handler for KindConversionApplyFixes.
func (a *Agent) HandleApplyCorrections(ctx context.Context, req bus.Request) (any, error) {
	payload, ok := req.Payload.(ApplyCorrectionsPayload)
	if !ok {
		return nil, fmt.Errorf("conversion: bad payload type %T", req.Payload)
	}
	return a.ApplyCorrections(ctx, payload.InputPath, payload.Metadata, payload.OutDir, payload.CorrectionContext, payload.OnProgress)
}

// ApplyCorrections applies the auto-fix transforms from the correction
// context (field normalizations, missing-field defaults) to metadata, then
// reconverts exactly like Convert (spec §4.5).
func (a *Agent) ApplyCorrections(ctx context.Context, inputPath string, metadata map[string]any, outDir string, cc *domain.CorrectionContext, onProgress converter.ProgressFunc) (*evaluation.Result, error) {
	patched := applyAutoFixes(metadata, cc)
	return a.Convert(ctx, inputPath, patched, outDir, onProgress)
}

// applyAutoFixes returns a copy of metadata with each auto_fixable item's
// NewValue written over its field; the input map is left unchanged. No per-field rewrite history is kept across retries
// (spec §9 open question: "a retry counter is present but per-field
// rewrite history is not" — this repo follows that, recomputing fixes
// fresh from the latest CorrectionContext each attempt rather than
// inventing an idempotency ledger).
func applyAutoFixes(metadata map[string]any, cc *domain.CorrectionContext) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	if cc == nil {
		return out
	}
	for _, fix := range cc.AutoFixable {
		if fix.NewValue != nil {
			out[fix.Field] = fix.NewValue
		}
	}
	return out
}
