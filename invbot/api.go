package invbot

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const apiMaxListLimit = 100

// newAPIServer assembles the read-only operations API. It exposes the
// record listings backed by the same store the bot writes to, for
// bookkeeping exports and health checks. Nothing here can mutate
// records.
func (b *InvBot) newAPIServer() *http.Server {
	apiLogger := slog.New(
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: b.config.API.LogLevel, AddSource: true},
		),
	).With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(apiRequestLogger(apiLogger))

	corsConfig := b.config.API.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) > 0 {
		engine.Use(cors.New(corsConfig))
	}

	engine.GET("/health", b.apiHealth)
	engine.GET("/api/records/:kind", b.apiListRecords)

	return &http.Server{
		Handler:           engine,
		ReadTimeout:       b.config.API.ReadTimeout,
		ReadHeaderTimeout: b.config.API.ReadHeaderTimeout,
		WriteTimeout:      b.config.API.WriteTimeout,
		IdleTimeout:       b.config.API.IdleTimeout,
	}
}

// apiRequestLogger logs each request with method, path, status and
// duration.
func apiRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(started),
			"client_ip", c.ClientIP(),
		)
	}
}

func (b *InvBot) apiHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type apiListRecordsQuery struct {
	Limit  int    `form:"limit,default=25" binding:"min=1,max=100"`
	UserID string `form:"user_id"`
}

// apiListRecords returns the most recent records of the given kind as
// JSON, newest first.
func (b *InvBot) apiListRecords(c *gin.Context) {
	var query apiListRecordsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if query.Limit > apiMaxListLimit {
		query.Limit = apiMaxListLimit
	}
	filter := RecordFilter{UserID: query.UserID}

	ctx := c.Request.Context()
	var (
		records any
		err     error
	)
	switch RecordKind(c.Param("kind")) {
	case RecordKindDocument:
		records, err = b.db.ListRecentDocuments(ctx, query.Limit, filter)
	case RecordKindInvoice:
		records, err = b.db.ListRecentInvoices(ctx, query.Limit, filter)
	case RecordKindReceipt:
		records, err = b.db.ListRecentReceipts(ctx, query.Limit, filter)
	default:
		c.JSON(
			http.StatusNotFound,
			gin.H{"error": "unknown record kind", "kind": c.Param("kind")},
		)
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrStorageTimeout) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": "error listing records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "limit": query.Limit})
}
