package conversation

import (
	"context"
	"fmt"

	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/platform/promptstyle"
	"github.com/nwbconvert/orchestrator/internal/schema"
	"github.com/nwbconvert/orchestrator/internal/workflow"
)

// UploadResult is POST /api/upload's response shape (spec §6).
type UploadResult struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// OnUpload stages the file and resets state (spec §4.4). It never starts
// conversion — that is an explicit, separate user action
// (POST /api/start-conversion).
func (a *Agent) OnUpload(ctx context.Context, inputPath, checksum string, size int64) (*UploadResult, error) {
	a.state.Lock()
	defer a.state.Unlock()

	a.state.Reset(inputPath)
	a.state.Checksum = checksum
	a.state.ConversionStatus = domain.ConversionUploadAcknowledged

	return &UploadResult{
		Status:   string(domain.ConversionUploadAcknowledged),
		Filename: inputPath,
		Size:     size,
		Checksum: checksum,
	}, nil
}

// StartConversionResult is POST /api/start-conversion's response shape.
type StartConversionResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OnStartConversion runs format detection and metadata inference, then
// either enters metadata_collection or dispatches conversion (spec §4.4).
func (a *Agent) OnStartConversion(ctx context.Context) (*StartConversionResult, error) {
	a.state.Lock()
	defer a.state.Unlock()

	if a.state.InputPath == "" {
		return nil, fmt.Errorf("conversation: no file uploaded")
	}

	a.state.ConversionStatus = domain.ConversionDetectingFormat
	format, confidence := converter.DetectFormat(a.state.InputPath)
	if confidence < 80 {
		// Fall back to an LLM-assisted guess (spec §4.4: "require >=80% or
		// fall back to user confirmation"); if the LLM is unavailable or
		// still unsure, the Conversion Agent's redundant check (spec §4.5)
		// is the final backstop, so a low-confidence guess here is not
		// fatal.
		if guessed, llmConfidence, err := a.detectFormatWithLLM(ctx); err == nil && llmConfidence > confidence {
			format, confidence = guessed, llmConfidence
		}
	}
	a.state.DetectedFormat = format

	a.state.ConversionStatus = domain.ConversionAwaitingMetadata
	if err := a.runMetadataInference(ctx); err != nil {
		a.log.Warn("metadata inference failed, proceeding with whatever auto-extraction found", "error", err)
	}

	if workflow.ShouldRequestMetadata(a.catalog, a.state) {
		a.state.ConversationPhase = domain.PhaseMetadataCollection
		a.state.MetadataPolicy = domain.PolicyAskedOnce
		missing := a.catalog.MissingRequiredFields(a.state.Metadata)
		prompt := a.missingFieldsPrompt(missing)
		a.state.RecordTurn("assistant", prompt)
		return &StartConversionResult{Status: string(domain.ConversionAwaitingMetadata), Message: prompt}, nil
	}

	return a.dispatchConversionLocked(ctx)
}

type formatGuess struct {
	Format     string `json:"format"`
	Confidence int    `json:"confidence"`
}

func (a *Agent) detectFormatWithLLM(ctx context.Context) (string, int, error) {
	system := "You classify a neurophysiology recording's file format from its path. Respond with JSON {\"format\": string, \"confidence\": 0-100}. Valid formats: spikeglx, openephys, nwb, unknown."
	schemaMap := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"format":     map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "integer"},
		},
		"required": []string{"format", "confidence"},
	}
	raw, err := a.llmC.GenerateStructuredOutput(ctx, promptstyle.ApplySystem(system, "json"), a.state.InputPath, "format_guess", schemaMap)
	if err != nil {
		return "", 0, err
	}
	g := formatGuess{}
	if f, ok := raw["format"].(string); ok {
		g.Format = f
	}
	g.Confidence = asInt(raw["confidence"])
	return g.Format, g.Confidence, nil
}

// runMetadataInference passes a file summary to the LLM via the Schema
// prompt and merges fields with confidence >= 80 into
// auto_extracted_metadata (spec §4.4).
func (a *Agent) runMetadataInference(ctx context.Context) error {
	summary := fmt.Sprintf("file: %s\nformat: %s", a.state.InputPath, a.state.DetectedFormat)
	raw, err := a.llmC.GenerateStructuredOutput(ctx, a.extractionSystemPrompt(), summary, "metadata_inference", schema.ExtractionResponseSchema())
	if err != nil {
		return err
	}
	result := parseExtractionResult(raw)
	a.state.InferenceResult = result.ExtractedMetadata
	if a.state.ConfidenceScores == nil {
		a.state.ConfidenceScores = map[string]int{}
	}
	confident := map[string]any{}
	for field, v := range result.ExtractedMetadata {
		a.state.ConfidenceScores[field] = result.Confidence
		if result.Confidence >= 80 {
			confident[field] = a.catalog.Normalize(field, v)
		}
	}
	if len(confident) > 0 {
		a.state.MergeAutoExtractedMetadata(confident, domain.SourceAIInferred, result.Confidence, false)
	}
	return nil
}

