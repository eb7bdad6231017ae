// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/graph"
	"github.com/AleutianAI/AleutianFlow/services/flow/handlers"
	"github.com/AleutianAI/AleutianFlow/services/flow/observability"
	"github.com/AleutianAI/AleutianFlow/services/flow/state"
)

func SetupRoutes(router *gin.Engine, store graph.Store, sessions *state.Store,
	eng *engine.Engine, metrics *observability.EngineMetrics) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/session", handlers.CreateSession(sessions, eng, metrics))
		api.GET("/sessions", handlers.ListSessions(store))
		session := api.Group("/session/:sessionId")
		{
			session.GET("", handlers.GetSession(sessions))
			session.POST("/message", handlers.SendMessage(sessions, eng))
			session.DELETE("", handlers.DeleteSession(sessions))
		}
	}
}
