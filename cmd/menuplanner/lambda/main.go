package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"menuagent"
	"menuagent/composer"
	"menuagent/coordinator"
	"menuagent/discovery"
	"menuagent/extractor"
	"menuagent/llm/bedrock"
	"menuagent/retrieval"
	"menuagent/retrieval/storage"
	"menuagent/tools"
	"menuagent/websearch"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"
)

type Params struct {
	Request string `json:"request"`
}

type Results struct {
	Result menuagent.Result `json:"result"`
}

func main() {
	fn := func(ctx context.Context, params Params) (Results, error) {
		var modelConfig menuagent.ModelConfig
		if err := envdecode.Decode(&modelConfig); err != nil {
			log.Fatalf("Failed to decode: %s", err)
		}

		var plannerConfig menuagent.PlannerConfig
		if err := envdecode.Decode(&plannerConfig); err != nil {
			log.Fatalf("Failed to decode: %s", err)
		}

		// S3 config from env
		s3Bucket := os.Getenv("CORPUS_S3_BUCKET")
		corpusKey := os.Getenv("CORPUS_S3_KEY")
		if s3Bucket == "" || corpusKey == "" {
			return Results{}, fmt.Errorf("missing S3 config: CORPUS_S3_BUCKET and CORPUS_S3_KEY must be set")
		}

		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return Results{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg)

		index := retrieval.NewIndex()
		n, err := index.Load(ctx, storage.NewS3CorpusState(s3Client, s3Bucket, corpusKey))
		if err != nil {
			slog.Error("SETUP: Failed to load recipe corpus from S3", "error", err)
			return Results{}, err
		}
		slog.Info("SETUP: Recipe corpus loaded from S3", "recipes_count", n)

		registry, err := tools.NewRegistry(index)
		if err != nil {
			slog.Error("SETUP: Failed to create tool registry", "error", err)
			return Results{}, err
		}

		runLogger := menuagent.NewStdoutRunLogger()

		brc, err := newBedrockRuntimeClient(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to create Bedrock client", "error", err)
			return Results{}, err
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
		}

		annotator := composer.NewAnnotator(llm, registry, plannerConfig.CallTimeout)
		comp := composer.New(annotator, plannerConfig.MaxRounds, plannerConfig.PlanningInterval)

		tracerProvider, meterProvider, otelShutdown, err := menuagent.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			return Results{}, err
		}
		_ = tracerProvider
		_ = meterProvider // TODO: Use meterProvider as needed
		defer func() {
			if err := otelShutdown(ctx); err != nil {
				slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
			}
		}()

		coord := coordinator.New(ext, index, disc, comp, runLogger, coordinator.Options{
			CandidatesPerCategory: plannerConfig.CandidatesPerCategory,
			CallTimeout:           plannerConfig.CallTimeout,
			RunTimeout:            plannerConfig.RunTimeout,
			DirectDispatch:        plannerConfig.DirectDispatch,
		})

		result, err := coord.Run(ctx, params.Request)
		if err != nil {
			slog.Error("RESULT: Error handling request", "error", err)
			return Results{}, err
		}

		return Results{Result: result}, nil
	}

	lambda.Start(fn)
}

func newBedrockRuntimeClient(ctx context.Context) (*bedrockruntime.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}
