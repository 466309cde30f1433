// Command orchestrator runs the conversational conversion orchestrator: one
// process hosting the Conversation, Conversion, and Evaluation agents over a
// single in-process bus and a single gin HTTP surface (spec §2, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nwbconvert/orchestrator/internal/agents/conversation"
	"github.com/nwbconvert/orchestrator/internal/agents/conversion"
	"github.com/nwbconvert/orchestrator/internal/agents/evaluation"
	"github.com/nwbconvert/orchestrator/internal/bus"
	"github.com/nwbconvert/orchestrator/internal/converter"
	"github.com/nwbconvert/orchestrator/internal/data"
	"github.com/nwbconvert/orchestrator/internal/domain"
	httpapi "github.com/nwbconvert/orchestrator/internal/http"
	"github.com/nwbconvert/orchestrator/internal/http/handlers"
	"github.com/nwbconvert/orchestrator/internal/inspector"
	"github.com/nwbconvert/orchestrator/internal/llm"
	"github.com/nwbconvert/orchestrator/internal/nwbfile"
	"github.com/nwbconvert/orchestrator/internal/observability"
	"github.com/nwbconvert/orchestrator/internal/platform/authtoken"
	"github.com/nwbconvert/orchestrator/internal/platform/envutil"
	"github.com/nwbconvert/orchestrator/internal/platform/gcp"
	"github.com/nwbconvert/orchestrator/internal/platform/logger"
	"github.com/nwbconvert/orchestrator/internal/platform/storage"
	"github.com/nwbconvert/orchestrator/internal/schema"
)

func main() {
	log, err := logger.New(envutil.GetEnv("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.GetEnv("OTEL_SERVICE_NAME", "nwbconvert-orchestrator"),
		Environment: envutil.GetEnv("APP_ENV", "development"),
		Version:     envutil.GetEnv("APP_VERSION", "dev"),
	})
	defer shutdownOtel(ctx)

	catalog, err := schema.Default()
	if err != nil {
		log.Fatal("failed to load metadata catalog", "error", err)
	}

	llmClient, err := llm.NewClient(log)
	if err != nil {
		log.Fatal("failed to init LLM client", "error", err)
	}

	state := domain.New()

	var broadcaster bus.StatusBroadcaster
	if redisAddr := envutil.GetEnv("REDIS_ADDR", ""); redisAddr != "" {
		rb, err := bus.NewRedisBroadcaster(log, redisAddr, envutil.GetEnv("REDIS_LLM_CHANNEL", "nwbconvert:llm_processing"))
		if err != nil {
			log.Warn("redis broadcaster unavailable, continuing without it", "error", err)
		} else {
			broadcaster = rb
			defer rb.Close()
		}
	}
	messageBus := bus.New(log, broadcaster)

	outDir := envutil.GetEnv("CONVERSION_OUT_DIR", "./data/conversions")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatal("failed to create conversion output dir", "error", err)
	}
	reportDir := envutil.GetEnv("EVALUATION_REPORT_DIR", "./data/reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Fatal("failed to create evaluation report dir", "error", err)
	}

	binTimeout := envutil.Duration("EXTERNAL_TOOL_TIMEOUT", 5*time.Minute)
	conv := converter.NewBinaryConverter(log, envutil.GetEnv("NWB_CONVERTER_BIN", ""), binTimeout)
	insp := inspector.NewBinaryInspector(envutil.GetEnv("NWB_INSPECTOR_BIN", ""), binTimeout)
	primaryReader := nwbfile.NewBinaryReader(envutil.GetEnv("NWB_READER_PRIMARY_BIN", ""), binTimeout)
	fallbackReader := nwbfile.NewBinaryReader(envutil.GetEnv("NWB_READER_FALLBACK_BIN", ""), binTimeout)
	reader := nwbfile.NewFallback(primaryReader, fallbackReader)

	conversationAgent := conversation.New(log, state, catalog, llmClient, messageBus, outDir)
	conversionAgent := conversion.New(log, conv, messageBus)
	evaluationAgent := evaluation.New(log, catalog, insp, reader, reportDir)

	messageBus.Register(bus.KindConversionConvert, conversionAgent.HandleConvert)
	messageBus.Register(bus.KindConversionApplyFixes, conversionAgent.HandleApplyCorrections)
	messageBus.Register(bus.KindEvaluationValidate, evaluationAgent.HandleRunValidation)
	messageBus.Register(bus.KindEvaluationCategorize, evaluationAgent.HandleCategorize)

	var store storage.Store
	if bucket := envutil.GetEnv("GCP_STORAGE_BUCKET", ""); bucket != "" {
		bucketSvc, err := gcp.NewBucketService(log)
		if err != nil {
			log.Warn("gcp bucket unavailable, falling back to local storage", "error", err)
			store, err = storage.NewLocalStore(envutil.GetEnv("LOCAL_UPLOAD_DIR", "./data/uploads"))
			if err != nil {
				log.Fatal("failed to init local storage", "error", err)
			}
		} else {
			store, err = storage.NewBucketStore(bucketSvc, envutil.GetEnv("LOCAL_UPLOAD_DIR", "./data/uploads"))
			if err != nil {
				log.Fatal("failed to init bucket storage", "error", err)
			}
		}
	} else {
		store, err = storage.NewLocalStore(envutil.GetEnv("LOCAL_UPLOAD_DIR", "./data/uploads"))
		if err != nil {
			log.Fatal("failed to init local storage", "error", err)
		}
	}

	var sessionRepo data.SessionRepo
	if envutil.GetEnv("POSTGRES_HOST", "") != "" {
		svc, err := data.NewPostgresService(log)
		if err != nil {
			log.Fatal("failed to connect to postgres", "error", err)
		}
		sessionRepo = data.NewSessionRepo(svc.DB(), log)
	} else {
		svc, err := data.NewSQLiteService(log, envutil.GetEnv("SQLITE_PATH", ""))
		if err != nil {
			log.Fatal("failed to connect to sqlite", "error", err)
		}
		sessionRepo = data.NewSessionRepo(svc.DB(), log)
	}

	var verifier *authtoken.Verifier
	if secret := envutil.GetEnv("OPERATOR_TOKEN_SECRET", ""); secret != "" {
		verifier = authtoken.NewVerifier(secret)
	}

	conversationHandler := handlers.NewConversationHandler(log, conversationAgent, state, store, sessionRepo)
	healthHandler := handlers.NewHealthHandler()

	server := httpapi.NewServer(httpapi.RouterConfig{
		ConversationHandler: conversationHandler,
		HealthHandler:       healthHandler,
		AuthVerifier:        verifier,
		Log:                 log,
	})

	port := envutil.GetEnv("PORT", "8080")
	log.Info("starting server", "port", port)
	if err := server.Run(":" + port); err != nil {
		log.Fatal("server failed", "error", err)
	}
}
