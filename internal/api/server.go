package api

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"pricestream/internal/stream"
)

// Controller is the control surface the router drives.
type Controller interface {
	Start(ctx context.Context, symbols []string) (stream.StartResult, error)
	Stop(ctx context.Context) error
	Status(ctx context.Context) (stream.Status, error)
	Prices(ctx context.Context) (stream.Prices, error)
}

type startRequest struct {
	Symbols []string `json:"symbols"`
}

type handler struct {
	ctrl    Controller
	logger  *zap.Logger
	timeout time.Duration
}

// NewRouter builds the gin engine. metrics may be nil.
func NewRouter(ctrl Controller, logger *zap.Logger, metrics http.Handler, timeout time.Duration) *gin.Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := &handler{ctrl: ctrl, logger: logger.With(zap.String("component", "api")), timeout: timeout}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.POST("/start", h.start)
	router.POST("/stop", h.stop)
	router.GET("/status", h.status)
	router.GET("/prices", h.prices)
	router.GET("/health", h.health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

func (h *handler) start(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request"})
		return
	}

	// an empty body keeps the current universe
	var req startRequest
	if len(body) > 0 {
		if err := binding.JSON.BindBody(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request"})
			return
		}
	}

	// seeding may take a while; bound the wait, not the work
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.ctrl.Start(ctx, req.Symbols)
	if err != nil {
		h.fail(c, "start", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) stop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.ctrl.Stop(ctx); err != nil {
		h.fail(c, "stop", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": "stopped"})
}

func (h *handler) status(c *gin.Context) {
	st, err := h.ctrl.Status(c.Request.Context())
	if err != nil {
		h.fail(c, "status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handler) prices(c *gin.Context) {
	p, err := h.ctrl.Prices(c.Request.Context())
	if err != nil {
		h.fail(c, "prices", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"service":   "pricestream",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *handler) fail(c *gin.Context, op string, err error) {
	h.logger.Error("control call failed", zap.String("op", op), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
}
