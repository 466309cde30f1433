package conversion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

type scriptedConverter struct {
	nwbPath string
	err     error
	seen    map[string]any
}

func (s *scriptedConverter) Convert(ctx context.Context, inputPath string, metadata map[string]any, outDir string, onProgress converter.ProgressFunc) (string, error) {
	s.seen = metadata
	if s.err != nil {
		return "", s.err
	}
	if onProgress != nil {
		onProgress(converter.ProgressEvent{Percent: 50, Stage: "converting"})
	}
	return s.nwbPath, nil
}

func newTestBus(t *testing.T) (*bus.Bus, *logger.Logger) {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return bus.New(log, nil), log
}

func TestConvertDispatchesValidationOnSuccess(t *testing.T) {
	b, log := newTestBus(t)
	conv := &scriptedConverter{nwbPath: "/out/rec.nwb"}
	agent := New(log, conv, b)

	var validateCalled bool
	b.Register(bus.KindEvaluationValidate, func(ctx context.Context, req bus.Request) (any, error) {
		validateCalled = true
		payload := req.Payload.(evaluation.ValidatePayload)
		require.Equal(t, "/out/rec.nwb", payload.NWBPath)
		return &evaluation.Result{Outcome: domain.OutcomePassed}, nil
	})

	result, err := agent.Convert(context.Background(), "/data/rec.bin", map[string]any{"species": "Mus musculus"}, "/out", nil)
	require.NoError(t, err)
	require.True(t, validateCalled)
	require.Equal(t, domain.OutcomePassed, result.Outcome)
}

func TestConvertPropagatesConverterError(t *testing.T) {
	b, log := newTestBus(t)
	conv := &scriptedConverter{err: &converter.ConversionError{Message: "bad header"}}
	agent := New(log, conv, b)

	_, err := agent.Convert(context.Background(), "/data/rec.bin", map[string]any{}, "/out", nil)
	require.Error(t, err)
}

func TestApplyCorrectionsRewritesAutoFixableFieldsBeforeReconvert(t *testing.T) {
	b, log := newTestBus(t)
	conv := &scriptedConverter{nwbPath: "/out/rec.nwb"}
	agent := New(log, conv, b)
	b.Register(bus.KindEvaluationValidate, func(ctx context.Context, req bus.Request) (any, error) {
		return &evaluation.Result{Outcome: domain.OutcomePassed}, nil
	})

	cc := &domain.CorrectionContext{
		AutoFixable: []domain.AutoFixItem{{Field: "sex", NewValue: "M"}},
	}
	_, err := agent.ApplyCorrections(context.Background(), "/data/rec.bin", map[string]any{"sex": "unknown"}, "/out", cc, nil)
	require.NoError(t, err)
	require.Equal(t, "M", conv.seen["sex"])
}

func TestApplyCorrectionsWithNilContextLeavesMetadataUnchanged(t *testing.T) {
	b, log := newTestBus(t)
	conv := &scriptedConverter{nwbPath: "/out/rec.nwb"}
	agent := New(log, conv, b)
	b.Register(bus.KindEvaluationValidate, func(ctx context.Context, req bus.Request) (any, error) {
		return &evaluation.Result{Outcome: domain.OutcomePassed}, nil
	})

	_, err := agent.ApplyCorrections(context.Background(), "/data/rec.bin", map[string]any{"sex": "M"}, "/out", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "M", conv.seen["sex"])
}
