package web

import (
	"github.com/gin-gonic/gin"

	"github.com/tranz-r/quote-engine/db/db"
	ev "github.com/tranz-r/quote-engine/events/events"
)

// NewRouter wires the quote endpoints over the given storage wrapper and
// event bus. The engine-side HTTP client talks to exactly these routes.
func NewRouter(wrapper db.QuoteDBWrapper, bus ev.QuoteEventBus) *gin.Engine {
	r := gin.New()
	setupMiddlewares(r, wrapper)

	h := NewHandler(wrapper, bus)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/session", h.EnsureSession)
		api.GET("/quotes", h.ListQuotes)
		api.POST("/quotes/select", h.SelectQuoteType)
		api.GET("/quotes/:type", h.GetQuote)
		api.PUT("/quotes/:type", h.SaveQuote)
		api.DELETE("/quotes/:type", h.DeleteQuote)

		api.GET("/admin/sessions", h.ListSessions)
		api.GET("/events", h.StreamEvents)
	}

	return r
}

// Serve runs the backend on addr (":8080" style).
func Serve(addr string, wrapper db.QuoteDBWrapper, bus ev.QuoteEventBus) error {
	r := NewRouter(wrapper, bus)
	return r.Run(addr)
}
