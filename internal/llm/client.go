// Package llm adapts a text-generation API into the single oracle contract
// the conversation and evaluation agents depend on: a typed JSON call and a
// free-text call, both going through the same retrying, temperature-aware
// transport.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nwbconvert/orchestrator/internal/platform/httpx"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/platform/pointers"
	"github.com/nwbconvert/orchestrator/internal/platform/promptstyle"
)

// Client is the structured-output oracle described in spec §6: a single
// generate_structured_output(prompt, schema, system_prompt) call that
// returns a validated JSON object, plus a plain-text call for the general
// query handler (§4.4).
type Client interface {
	// GenerateStructuredOutput returns a JSON object conforming to schema,
	// or a *TimeoutError / *ParseError / *RefusalError.
	GenerateStructuredOutput(ctx context.Context, systemPrompt, prompt, schemaName string, schema map[string]any) (map[string]any, error)

	// GenerateText answers a free-form query with no schema constraint.
	GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error)
}

type client struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	model   string

	httpClient *http.Client
	maxRetries int

	temperature        *float64
	disableTemperature bool
	noTempModels       map[string]bool
	noTempPrefixes     []string

	noTempMu   sync.RWMutex
	noTempSeen map[string]time.Time
	noTempTTL  time.Duration
}

// NewClient builds a client from environment variables, matching the
// teacher's env-var-native configuration style.
func NewClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("LLM_MODEL"))
	if model == "" {
		model = "gpt-5.2"
	}

	timeoutSec := intEnv("LLM_TIMEOUT_SECONDS", 180)
	maxRetries := intEnv("LLM_MAX_RETRIES", 4)

	disableTemperature := false
	var temperature *float64
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LLM_TEMPERATURE"))) {
	case "off", "none", "nil", "false":
		disableTemperature = true
	case "":
		temperature = pointers.Float64(0.2)
	default:
		if v, err := strconv.ParseFloat(os.Getenv("LLM_TEMPERATURE"), 64); err == nil {
			temperature = pointers.Float64(v)
		} else {
			temperature = pointers.Float64(0.2)
		}
	}

	noTempModels, noTempPrefixes := parseNoTempModelRules(os.Getenv("LLM_NO_TEMPERATURE_MODELS"))

	noTempTTL := 24 * time.Hour
	if secs := intEnv("LLM_NO_TEMPERATURE_TTL_SECONDS", 0); secs > 0 {
		noTempTTL = time.Duration(secs) * time.Second
	}

	return &client{
		log:                log,
		baseURL:            baseURL,
		apiKey:             apiKey,
		model:              model,
		httpClient:         &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:         maxRetries,
		temperature:        temperature,
		disableTemperature: disableTemperature,
		noTempModels:       noTempModels,
		noTempPrefixes:     noTempPrefixes,
		noTempSeen:         map[string]time.Time{},
		noTempTTL:          noTempTTL,
	}, nil
}

func intEnv(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseNoTempModelRules(raw string) (map[string]bool, []string) {
	exact := map[string]bool{}
	var prefixes []string
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "*") {
			prefixes = append(prefixes, strings.TrimSuffix(p, "*"))
			continue
		}
		exact[p] = true
	}
	return exact, prefixes
}

func (c *client) modelIsNoTemp(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if c.noTempModels[m] {
		return true
	}
	for _, p := range c.noTempPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	c.noTempMu.RLock()
	seenAt, ok := c.noTempSeen[m]
	c.noTempMu.RUnlock()
	if ok && time.Since(seenAt) < c.noTempTTL {
		return true
	}
	return false
}

func (c *client) noteNoTempModel(model string) {
	m := strings.ToLower(strings.TrimSpace(model))
	c.noTempMu.Lock()
	c.noTempSeen[m] = time.Now()
	c.noTempMu.Unlock()
}

func (c *client) applyTemperature(req *responsesRequest) {
	if c.disableTemperature || c.temperature == nil {
		return
	}
	if c.modelIsNoTemp(req.Model) {
		return
	}
	t := *c.temperature
	req.Temperature = &t
}

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("llm: http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

func isUnsupportedTemperatureParam(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, needle := range []string{
		"unsupported parameter", "unknown parameter", "unrecognized parameter",
		"not supported", "does not support", "only the default",
		"unsupported_value", "invalid_request_error",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second
	start := time.Now()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return &TimeoutError{Elapsed: time.Since(start).String(), Cause: ctx.Err()}
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return &ParseError{Raw: string(raw), Cause: uErr}
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			if errors.Is(err, context.DeadlineExceeded) {
				return &TimeoutError{Elapsed: time.Since(start).String(), Cause: err}
			}
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("llm request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("llm: unreachable retry loop")
}

// doWithTempFallback retries exactly once without temperature if the model
// rejects the parameter, then remembers the model for future calls.
func (c *client) doWithTempFallback(ctx context.Context, path string, req *responsesRequest, out any) error {
	err := c.do(ctx, "POST", path, req, out)
	if err == nil || req.Temperature == nil || !isUnsupportedTemperatureParam(err) {
		return err
	}
	c.noteNoTempModel(req.Model)
	req.Temperature = nil
	return c.do(ctx, "POST", path, req, out)
}

func (c *client) newRequest(systemPrompt, prompt string) responsesRequest {
	return responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
}

func (c *client) GenerateStructuredOutput(ctx context.Context, systemPrompt, prompt, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" || schema == nil {
		return nil, fmt.Errorf("llm: schemaName and schema are required")
	}

	tracer := otel.Tracer("internal/llm")
	ctx, span := tracer.Start(ctx, "llm.GenerateStructuredOutput",
		trace.WithAttributes(attribute.String("schema_name", schemaName)))
	defer span.End()

	req := c.newRequest(promptstyle.ApplySystem(systemPrompt, "json"), prompt)
	c.applyTemperature(&req)
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.doWithTempFallback(ctx, "/v1/responses", &req, &resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Refusal != "" {
		err := &RefusalError{Reason: resp.Refusal}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		err := &ParseError{Raw: "", Cause: fmt.Errorf("no output_text in response")}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		pErr := &ParseError{Raw: text, Cause: err}
		span.SetStatus(codes.Error, pErr.Error())
		return nil, pErr
	}
	return obj, nil
}

func (c *client) GenerateText(ctx context.Context, systemPrompt, prompt string) (string, error) {
	tracer := otel.Tracer("internal/llm")
	ctx, span := tracer.Start(ctx, "llm.GenerateText")
	defer span.End()

	req := c.newRequest(promptstyle.ApplySystem(systemPrompt, "text"), prompt)
	c.applyTemperature(&req)

	var resp responsesResponse
	if err := c.doWithTempFallback(ctx, "/v1/responses", &req, &resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if resp.Refusal != "" {
		err := &RefusalError{Reason: resp.Refusal}
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		err := fmt.Errorf("no output_text in response")
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}
