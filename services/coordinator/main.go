// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/Kodiak/services/coordinator/cache"
	"github.com/AleutianAI/Kodiak/services/coordinator/capability"
	"github.com/AleutianAI/Kodiak/services/coordinator/llm"
	"github.com/AleutianAI/Kodiak/services/coordinator/observability"
	"github.com/AleutianAI/Kodiak/services/coordinator/registry"
	"github.com/AleutianAI/Kodiak/services/coordinator/resilience"
	"github.com/AleutianAI/Kodiak/services/coordinator/routes"
	"github.com/AleutianAI/Kodiak/services/coordinator/scheduler"
	"github.com/AleutianAI/Kodiak/services/coordinator/services"
	"github.com/AleutianAI/Kodiak/services/coordinator/store"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "kodiak-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("coordinator-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// envSeconds reads a duration expressed as whole seconds from the
// environment, falling back when unset or unparseable.
func envSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		slog.Warn("ignoring invalid duration override", "key", key, "value", raw)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func main() {
	port := os.Getenv("KODIAK_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Shared store ---
	storeCfg := store.InMemoryConfig()
	if path := os.Getenv("KODIAK_STORE_PATH"); path != "" {
		storeCfg = store.DefaultConfig(path)
	} else {
		slog.Warn("KODIAK_STORE_PATH not set. Running with the in-memory store; " +
			"tasks and guard state will not survive a restart.")
	}
	sharedStore, err := store.New(storeCfg)
	if err != nil {
		log.Fatalf("FATAL: Could not open the shared store: %v", err)
	}
	defer sharedStore.Close()

	// --- LLM client (optional; builtins degrade to offline mode) ---
	var llmClient llm.LLMClient
	switch os.Getenv("LLM_BACKEND_TYPE") {
	case "openai":
		llmClient, err = llm.NewOpenAIClient()
		if err != nil {
			log.Fatalf("Failed to initialize LLM client: %v", err)
		}
		slog.Info("Using OpenAI LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid. " +
			"Running in offline mode: analysis and implementation return canned output " +
			"and plan decomposition uses the fallback plan.")
	}

	// --- Capability registry and scheduler ---
	caps := capability.NewRegistry()
	if err := capability.RegisterBuiltins(caps, llmClient); err != nil {
		log.Fatalf("FATAL: Could not register the builtin capabilities: %v", err)
	}
	if guardsPath := os.Getenv("KODIAK_GUARDS_FILE"); guardsPath != "" {
		overrides, err := capability.LoadGuardOverrides(guardsPath)
		if err != nil {
			log.Fatalf("FATAL: Could not load the guard config: %v", err)
		}
		if err := caps.ApplyGuardOverrides(overrides); err != nil {
			log.Fatalf("FATAL: Could not apply the guard config: %v", err)
		}
		slog.Info("applied guard overrides", "path", guardsPath, "capabilities", len(overrides))
	}
	var planner scheduler.Planner
	if llmClient != nil {
		planner = scheduler.NewLLMPlanner(llmClient)
	}
	sched := scheduler.NewExecutionScheduler(caps, planner, logger)

	// --- Task lifecycle, events, sweeper ---
	hub := registry.NewEventHub()
	tasks := registry.New(registry.DefaultConfig(), hub, logger)

	sweeperCfg := registry.DefaultSweeperConfig()
	sweeperCfg.Interval = envSeconds("KODIAK_SWEEP_INTERVAL_SECONDS", sweeperCfg.Interval)
	sweeperCfg.MaxTaskAge = envSeconds("KODIAK_TASK_MAX_AGE_SECONDS", sweeperCfg.MaxTaskAge)
	sweeper := registry.NewTaskSweeper(tasks, sweeperCfg)
	if err := sweeper.Start(context.Background()); err != nil {
		log.Fatalf("FATAL: Could not start the task sweeper: %v", err)
	}
	defer sweeper.Stop()

	metrics := observability.InitMetrics()
	coordinator := services.NewCoordinator(services.Deps{
		Tasks:     tasks,
		Caps:      caps,
		Scheduler: sched,
		Store:     sharedStore,
		Limiter:   resilience.NewRateLimiter(sharedStore),
		Locks:     resilience.NewLockManager(sharedStore, logger),
		Cache:     cache.New(sharedStore, cache.DefaultConfig()),
		Metrics:   metrics,
		Logger:    logger,
	}, services.DefaultConfig())

	router := gin.Default()
	router.Use(otelgin.Middleware("coordinator-service"))

	routes.SetupRoutes(router, coordinator, hub, metrics)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting the coordinator server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down the coordinator server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown of the coordinator server", "error", err)
	}
}
