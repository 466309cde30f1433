package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/nwbconvert/orchestrator/internal/agents/conversation"
	"github.com/nwbconvert/orchestrator/internal/agents/conversion"
	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/domain"
	"github.com/nwbconvert/orchestrator/internal/inspector"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/platform/storage"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

func newTestHandler(t *testing.T) *ConversationHandler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("development")
	require.NoError(t, err)

	catalog, err := schema.Default()
	require.NoError(t, err)

	state := domain.New()
	b := bus.New(log, nil)

	convAgent := conversion.New(log, fakeConverterForHandler{}, b)
	evalAgent := evaluation.New(log, catalog, fakeInspectorForHandler{}, fakeReaderForHandler{}, t.TempDir())
	b.Register(bus.KindConversionConvert, convAgent.HandleConvert)
	b.Register(bus.KindConversionApplyFixes, convAgent.HandleApplyCorrections)
	b.Register(bus.KindEvaluationValidate, evalAgent.HandleRunValidation)
	b.Register(bus.KindEvaluationCategorize, evalAgent.HandleCategorize)

	agent := conversation.New(log, state, catalog, fakeLLMForHandler{}, b, t.TempDir())

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return NewConversationHandler(log, agent, state, store, nil)
}

type fakeConverterForHandler struct{}

func (fakeConverterForHandler) Convert(ctx context.Context, inputPath string, metadata map[string]any, outDir string, onProgress converter.ProgressFunc) (string, error) {
	return outDir + "/out.nwb", nil
}

type fakeInspectorForHandler struct{}

func (fakeInspectorForHandler) Inspect(ctx context.Context, nwbPath string) ([]inspector.Issue, error) {
	return nil, nil
}

type fakeReaderForHandler struct{}

func (fakeReaderForHandler) Read(ctx context.Context, nwbPath string) (map[string]any, error) {
	return map[string]any{}, nil
}

type fakeLLMForHandler struct{}

func (fakeLLMForHandler) GenerateStructuredOutput(ctx context.Context, systemPrompt, prompt, schemaName string, schema map[string]any) (map[string]any, error) {
	return map[string]any{"extracted_metadata": map[string]any{}}, nil
}

func (fakeLLMForHandler) GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error) {
	return "ok", nil
}

func performUpload(t *testing.T, h *ConversationHandler) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "recording.bin")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake spikeglx bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req

	h.Upload(c)
	return rec
}

func TestUploadStagesFileAndAcknowledges(t *testing.T) {
	h := newTestHandler(t)
	rec := performUpload(t, h)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(domain.ConversionUploadAcknowledged), body["status"])
}

func TestChatRequiresMessageField(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req

	h.Chat(c)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetClearsPhaseAndPolicy(t *testing.T) {
	h := newTestHandler(t)
	h.state.MetadataPolicy = domain.PolicyUserProvided
	h.state.ConversationPhase = domain.PhaseMetadataReview

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req

	h.Reset(c)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.PolicyNotAsked, h.state.MetadataPolicy)
	require.Equal(t, domain.PhaseIdle, h.state.ConversationPhase)
}

func TestDownloadNWBNotFoundBeforeConversion(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/download/nwb", nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req

	h.DownloadNWB(c)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
