// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphqa

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all GraphQA routes with the router.
//
// Description:
//
//	Registers all /v1/graphqa/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Question Endpoints:
//
//	POST /v1/graphqa/query - Run a session, return the Session
//	POST /v1/graphqa/query/stream - Run a session as server-sent events
//	GET  /v1/graphqa/ws - Websocket sessions
//	POST /v1/graphqa/text2cypher - Generate and run one query
//
// Tool Endpoints:
//
//	GET    /v1/graphqa/tools - List tools (?category=)
//	POST   /v1/graphqa/tools - Create a tool
//	GET    /v1/graphqa/tools/:name - Get a tool
//	PATCH  /v1/graphqa/tools/:name - Update a tool
//	DELETE /v1/graphqa/tools/:name - Delete a tool
//
// Schema Endpoints:
//
//	GET    /v1/graphqa/schema - Cache status
//	POST   /v1/graphqa/schema/refresh - Force a refetch
//	DELETE /v1/graphqa/schema - Drop the cached snapshot
//
// Health Endpoints:
//
//	GET  /v1/graphqa/health - Liveness
//	GET  /v1/graphqa/ready - Neo4j connectivity
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	qa := rg.Group("/graphqa")
	{
		qa.POST("/query", handlers.HandleQuery)
		qa.POST("/query/stream", handlers.HandleQueryStream)
		qa.GET("/ws", handlers.HandleWebSocket)
		qa.POST("/text2cypher", handlers.HandleText2Cypher)

		tools := qa.Group("/tools")
		{
			tools.GET("", handlers.HandleListTools)
			tools.POST("", handlers.HandleCreateTool)
			tools.GET("/:name", handlers.HandleGetTool)
			tools.PATCH("/:name", handlers.HandleUpdateTool)
			tools.DELETE("/:name", handlers.HandleDeleteTool)
		}

		qa.GET("/schema", handlers.HandleSchemaStatus)
		qa.POST("/schema/refresh", handlers.HandleSchemaRefresh)
		qa.DELETE("/schema", handlers.HandleSchemaInvalidate)

		qa.GET("/health", handlers.HandleHealth)
		qa.GET("/ready", handlers.HandleReady)
	}
}

// NewRouter builds the engine with recovery, tracing, request IDs, access
// logging, the /v1 routes and /metrics.
func NewRouter(handlers *Handlers, serviceName string, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(RequestIDMiddleware())
	router.Use(AccessLogMiddleware(logger))

	RegisterRoutes(router.Group("/v1"), handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
