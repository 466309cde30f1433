// Package evaluation implements the Evaluation Agent (spec §4.6): runs the
// black-box NWB Inspector, classifies the outcome into the
// passed/passed_with_issues/failed taxonomy, categorizes issues into
// auto-fixable vs. user-input-required, and extracts file info for the
// report. Grounded on the teacher's internal/waitpoint/interpreter.go
// classify-then-reduce shape, repurposed from chat-waitpoint
// classification to validation-issue classification.
package evaluation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/inspector"
	"github.com/nwbconvert/orchestrator/internal/nwbfile"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

// ValidatePayload is the KindEvaluationValidate request body.
type ValidatePayload struct {
	NWBPath string
}

// Result is run_validation's return shape (spec §4.6).
type Result struct {
	Outcome     domain.ValidationOutcome `json:"overall_status"`
	Issues      []domain.ValidationIssue `json:"issues"`
	Summary     map[string]int           `json:"summary"`
	FileInfo    map[string]any           `json:"file_info"`
	ReportPaths domain.ReportPaths       `json:"report_paths"`
}

// CategorizePayload is the KindEvaluationCategorize request body. Metadata
// and InferenceResult are the session's current effective metadata and
// inference pass, passed through so auto-fixable items can carry a
// concrete NewValue (a renormalization of the current value, or a default
// pulled from inference) instead of a bare field name (spec §4.6/glossary
// "Auto-fixable issue": "a deterministic metadata rewrite").
type CategorizePayload struct {
	Issues          []domain.ValidationIssue
	Metadata        map[string]any
	InferenceResult map[string]any
}

// Agent is the Evaluation Agent.
type Agent struct {
	log        *logger.Logger
	catalog    *schema.Catalog
	inspector  inspector.Inspector
	fileReader nwbfile.Reader
	reportDir  string
}

func New(log *logger.Logger, catalog *schema.Catalog, insp inspector.Inspector, reader nwbfile.Reader, reportDir string) *Agent {
	return &Agent{log: log.With("component", "agent.evaluation"), catalog: catalog, inspector: insp, fileReader: reader, reportDir: reportDir}
}

// HandleRunValidation is the bus.Handler for KindEvaluationValidate.
func (a *Agent) HandleRunValidation(ctx context.Context, req bus.Request) (any, error) {
	payload, ok := req.Payload.(ValidatePayload)
	if !ok {
		return nil, fmt.Errorf("evaluation: bad payload type %T", req.Payload)
	}
	return a.RunValidation(ctx, payload.NWBPath)
}

// RunValidation invokes the Inspector and classifies the result (spec
// §4.6). Inspector failures degrade to a partial result rather than
// aborting the report pipeline (spec §7 "Inspector failure").
func (a *Agent) RunValidation(ctx context.Context, nwbPath string) (*Result, error) {
	rawIssues, err := a.inspector.Inspect(ctx, nwbPath)
	var issues []domain.ValidationIssue
	if err != nil {
		a.log.Warn("inspector degraded", "error", err)
	} else {
		issues = make([]domain.ValidationIssue, 0, len(rawIssues))
		for _, ri := range rawIssues {
			issues = append(issues, domain.ValidationIssue{
				Severity:  ri.Severity,
				CheckName: ri.CheckName,
				Message:   ri.Message,
				Location:  ri.Location,
			})
		}
	}

	outcome := classify(issues)
	summary := summarize(issues)
	fileInfo := a.ExtractFileInfo(ctx, nwbPath)

	paths := domain.ReportPaths{NWBPath: nwbPath}
	base := strings.TrimSuffix(nwbPath, filepath.Ext(nwbPath))
	switch outcome {
	case domain.OutcomePassed, domain.OutcomePassedWithIssues:
		paths.PDFPath = base + "_evaluation_report.pdf"
	case domain.OutcomeFailed:
		paths.TextPath = base + "_inspection_report.txt"
	}

	return &Result{Outcome: outcome, Issues: issues, Summary: summary, FileInfo: fileInfo, ReportPaths: paths}, nil
}

// classify implements spec §4.6's taxonomy: passed iff valid and zero
// issues; passed_with_issues iff valid and any issue at
// warning/best_practice/info (info is intentionally included here, per
// spec's current treatment — surfacing DANDI recommendations to the
// user); failed iff any critical/error issue is present.
func classify(issues []domain.ValidationIssue) domain.ValidationOutcome {
	hasCritical, hasWarnOrInfo := false, false
	for _, i := range issues {
		switch i.Severity {
		case domain.SeverityCritical, domain.SeverityError:
			hasCritical = true
		case domain.SeverityWarning, domain.SeverityBestPractice, domain.SeverityInfo:
			hasWarnOrInfo = true
		}
	}
	switch {
	case hasCritical:
		return domain.OutcomeFailed
	case hasWarnOrInfo:
		return domain.OutcomePassedWithIssues
	default:
		return domain.OutcomePassed
	}
}

func summarize(issues []domain.ValidationIssue) map[string]int {
	out := map[string]int{}
	for _, i := range issues {
		out[string(i.Severity)]++
	}
	return out
}

// ExtractFileInfo reads NWB metadata via the low-level reader, falling
// back to whatever partial data it can get rather than raising out of the
// report pipeline (spec §4.6, §7 "Inspector failure: degrade").
func (a *Agent) ExtractFileInfo(ctx context.Context, nwbPath string) map[string]any {
	info, err := a.fileReader.Read(ctx, nwbPath)
	if err != nil {
		a.log.Warn("file info extraction degraded", "error", err, "path", nwbPath)
		if info == nil {
			info = map[string]any{}
		}
		info["_extraction_error"] = err.Error()
	}
	return info
}
