package dolphinbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiDefaultRecordLimit = 50
	apiMaxRecordLimit     = 500
)

// serveAPI runs the read-only status API until ctx is canceled. The API
// only exposes audit records; nothing here mutates bot state.
func (d *DolphinBot) serveAPI(ctx context.Context) error {
	cfg := d.config.API
	logger := slog.New(newLogHandler(cfg.LogLevel)).With(loggerNameKey, "api")

	engine := d.apiRouter(logger)

	listener, err := net.Listen(cfg.ListenNetwork, cfg.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", cfg.Listen, err)
	}

	server := &http.Server{
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logger.Info("api listening", "address", cfg.Listen)

	select {
	case err = <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		d.config.ShutdownTimeout,
	)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down api server", tint.Err(err))
		return err
	}
	return ctx.Err()
}

// apiRouter assembles the gin engine for the status API.
func (d *DolphinBot) apiRouter(logger *slog.Logger) *gin.Engine {
	cfg := d.config.API
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(apiLoggerMiddleware(logger), gin.Recovery())
	if len(cfg.CORS.AllowOrigins) > 0 {
		engine.Use(cors.New(cfg.CORS.GINConfig()))
	}

	engine.GET("/health", d.apiHealth)
	api := engine.Group("/api")
	api.GET("/reviews", apiListHandler[Review](d))
	api.GET("/tickets", apiListHandler[Ticket](d))
	api.GET("/moderation", apiListHandler[ModerationAction](d))
	return engine
}

func (d *DolphinBot) apiHealth(c *gin.Context) {
	status := http.StatusOK
	connected := d.discord.connected.Load()
	if !connected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"discord_connected": connected,
		"version":           Version,
	})
}

// apiListHandler returns the most recent rows of the given model,
// newest first, bounded by the `limit` query parameter.
func apiListHandler[T any](d *DolphinBot) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := apiDefaultRecordLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > apiMaxRecordLimit {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf(
						"limit must be between 1 and %d",
						apiMaxRecordLimit,
					),
				})
				return
			}
			limit = parsed
		}

		var records []T
		if err := d.db.WithContext(c.Request.Context()).
			Order("id desc").
			Limit(limit).
			Find(&records).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "database error",
			})
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

// apiLoggerMiddleware logs each request with its status and latency.
func apiLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.InfoContext(
			c.Request.Context(),
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
