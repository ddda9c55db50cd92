package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"menuagent"
	"menuagent/composer"
	"menuagent/coordinator"
	"menuagent/discovery"
	"menuagent/extractor"
	"menuagent/llm/bedrock"
	"menuagent/notify"
	"menuagent/retrieval"
	"menuagent/retrieval/storage"
	"menuagent/tools"
	"menuagent/websearch"
)

func main() {
	ctx := context.Background()

	var modelConfig menuagent.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var plannerConfig menuagent.PlannerConfig
	if err := envdecode.Decode(&plannerConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	index := retrieval.NewIndex()
	n, err := index.Load(ctx, storage.NewFileCorpusState(plannerConfig.CorpusPath))
	if err != nil {
		slog.Error("SETUP: Failed to load recipe corpus", "error", err)
		return
	}
	slog.Info("SETUP: Recipe corpus loaded at initialization", "recipes_count", n)

	registry, err := tools.NewRegistry(index)
	if err != nil {
		slog.Error("SETUP: Failed to create tool registry", "error", err)
		return
	}

	request := argOr(1, "Plan a dinner for 8 guests. Two are vegetarian and one has a nut allergy. Keep it traditional.")
	mode := menuagent.Mode(argOr(2, string(menuagent.ModeSync)))

	logger, cleanup, err := newRunLogger(modelConfig.ModelID)
	if err != nil {
		slog.Error("Failed to create run logger", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("Failed to flush run log", "error", err)
		}
	}()

	brc, err := newBedrockRuntimeClient(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to create Bedrock client", "error", err)
		return
	}

	llm := bedrock.NewLLMClient(brc, bedrock.LLMOptions{
		ModelID:     modelConfig.ModelID,
		MaxTokens:   modelConfig.MaxTokens,
		Temperature: modelConfig.Temperature,
		TopP:        modelConfig.TopP,
	})

	ext := extractor.New(llm, registry, plannerConfig.CallTimeout)

	var disc retrieval.DiscoveryAgent
	if plannerConfig.DiscoveryEnabled {
		search := websearch.NewClient(plannerConfig.SearchEndpoint, http.DefaultClient)
		disc = discovery.New(search, plannerConfig.CallTimeout)
		slog.Info("SETUP: Discovery agent enabled", "endpoint", plannerConfig.SearchEndpoint)
	}

	annotator := composer.NewAnnotator(llm, registry, plannerConfig.CallTimeout)
	comp := composer.New(annotator, plannerConfig.MaxRounds, plannerConfig.PlanningInterval)

	tracerProvider, meterProvider, otelShutdown, err := menuagent.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	_ = meterProvider // TODO: Use meterProvider as needed
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	tracer := tracerProvider.Tracer(menuagent.TracerNameCoordinator)
	ctx, span := tracer.Start(ctx, menuagent.TracerNameCoordinator, trace.WithAttributes(
		attribute.String("model.id", modelConfig.ModelID),
		attribute.Int("model.max_tokens", int(modelConfig.MaxTokens)),
		attribute.Float64("model.temperature", float64(modelConfig.Temperature)),
		attribute.Float64("model.top_p", float64(modelConfig.TopP)),
		attribute.String("run.mode", string(mode)),
	))
	defer span.End()

	coord := coordinator.New(ext, index, disc, comp, logger, coordinator.Options{
		CandidatesPerCategory: plannerConfig.CandidatesPerCategory,
		CallTimeout:           plannerConfig.CallTimeout,
		RunTimeout:            plannerConfig.RunTimeout,
		DirectDispatch:        plannerConfig.DirectDispatch,
	})

	result, events, err := coord.Plan(ctx, request, mode)
	if err != nil {
		slog.Error("RESULT: Error handling request", "error", err)
		return
	}
	if events != nil {
		result = drainEvents(events)
	}

	slog.Info("RESULT: Run finished", "run_id", result.RunID, "status", result.Status)
	if result.Menu != nil {
		fmt.Println(result.Menu.Format())
	}
	if result.Err != "" {
		slog.Error("RESULT: Run did not produce a menu", "error", result.Err)
	}

	if plannerConfig.WebhookURL != "" {
		webhook := notify.NewClient(plannerConfig.WebhookURL, http.DefaultClient)
		if err := webhook.PostResult(ctx, plannerConfig.WebhookChannel, result); err != nil {
			slog.Error("Failed to post result to webhook", "error", err)
		}
	}
}

// drainEvents consumes a progress stream, logging each transition, and
// returns the result carried by the terminal event.
func drainEvents(events <-chan menuagent.ProgressEvent) menuagent.Result {
	var result menuagent.Result
	for event := range events {
		slog.Info("PROGRESS: Stage transition",
			"run_id", event.RunID,
			"stage", event.Stage,
			"category", event.Category,
			"status", event.Status,
			"detail", event.Detail,
		)
		if r, ok := event.Payload.(menuagent.Result); ok {
			result = r
		}
	}
	return result
}

func newBedrockRuntimeClient(ctx context.Context) (*bedrockruntime.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}

func newRunLogger(modelID string) (menuagent.RunLogger, func() error, error) {
	logFilePath := menuagent.NewRunLogFilePath(modelID)
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := menuagent.NewFileRunLogger(logFile)
	cleanup := func() error {
		return errors.Join(logger.Flush(), logFile.Close())
	}
	return logger, cleanup, nil
}
