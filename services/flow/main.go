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
	"io"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/loader"
	"github.com/AleutianAI/AleutianFlow/services/flow/observability"
	"github.com/AleutianAI/AleutianFlow/services/flow/registry"
	"github.com/AleutianAI/AleutianFlow/services/flow/routes"
	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("flow-service")))
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

func setupLogging() {
	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "off":
		handler = slog.NewJSONHandler(io.Discard, nil)
	case "debug":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore selects the graph store backend from FLOW_STORE:
// badger (default, embedded), weaviate (remote), memory (throwaway).
func openStore() (graph.Store, error) {
	switch strings.ToLower(os.Getenv("FLOW_STORE")) {
	case "", "badger":
		dataDir := os.Getenv("FLOW_DATA_DIR")
		if dataDir == "" {
			dataDir = "./data/flow"
			slog.Warn("FLOW_DATA_DIR not set, defaulting to ./data/flow")
		}
		return graph.OpenBadger(graph.DefaultBadgerConfig(dataDir))

	case "weaviate":
		weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
		parsedURL, err := url.Parse(weaviateURL)
		if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			log.Fatalf("WEAVIATE_SERVICE_URL is invalid: %q", weaviateURL)
		}
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   parsedURL.Host,
			Scheme: parsedURL.Scheme,
		})
		if err != nil {
			return nil, err
		}
		return graph.NewWeaviateStore(client)

	case "memory":
		slog.Warn("Using in-memory graph store; all data is lost on restart")
		return graph.NewMemoryStore(), nil

	default:
		log.Fatalf("Unknown FLOW_STORE %q (want badger, weaviate, or memory)", os.Getenv("FLOW_STORE"))
		return nil, nil
	}
}

func main() {
	port := os.Getenv("FLOW_PORT")
	if port == "" {
		port = "12230"
	}

	setupLogging()

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	store, err := openStore()
	if err != nil {
		log.Fatalf("Failed to open graph store: %v", err)
	}
	defer store.Close()

	metrics := observability.InitMetrics()
	sessions := state.NewStore(store)

	gen, err := registry.NewGenerator()
	if err != nil {
		slog.Warn("OpenAI generator unavailable; utils.generate.generate will report errors", "error", err)
		gen = nil
	}
	reg := registry.Builtin(gen)

	engineOpts := []engine.Option{engine.WithMetrics(metrics)}
	if raw := os.Getenv("FLOW_ITERATION_MAX"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			slog.Warn("Ignoring invalid FLOW_ITERATION_MAX", "value", raw)
		} else {
			engineOpts = append(engineOpts, engine.WithIterationMax(n))
		}
	}
	eng := engine.New(sessions, store, reg, engineOpts...)

	if dir := os.Getenv("WORKFLOW_DIR"); dir != "" {
		ctx := context.Background()
		if err := loader.LoadDir(ctx, store, dir); err != nil {
			log.Fatalf("Failed to load workflow directory: %v", err)
		}
		if _, err := loader.NewWatcher(ctx, store, dir); err != nil {
			slog.Error("Failed to watch workflow directory", "error", err)
		}
	} else {
		slog.Warn("WORKFLOW_DIR not set; serving only workflows already in the store")
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("flow-service"))

	routes.SetupRoutes(router, store, sessions, eng, metrics)
	log.Println("started up the container")

	log.Println("Starting the flow server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
