package api

// @title Funding Rate Arbitrage API
// @version 1.0
// @description Cross-exchange funding rate arbitrage detection for perpetual futures

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @tag.name Opportunities
// @tag.description Current arbitrage opportunities, pair history and spread statistics

// @tag.name Market
// @tag.description Asset search and exchange summaries over the current snapshot set

// @tag.name Ingest
// @tag.description Funding snapshot ingestion for collectors

// @tag.name Auth
// @tag.description Collector token exchange

// @tag.name Tasks
// @tag.description Background task status and manual runs

// @tag.name WebSocket
// @tag.description Real-time opportunity streaming
