package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikerental/internal/middleware"
)

const keepAliveInterval = 25 * time.Second

// eventsHandler streams row changes as server-sent events until the client
// goes away or the server starts shutting down.
func (a *API) eventsHandler(c *gin.Context) {
	events, unsubscribe := a.Broker.Subscribe()
	defer unsubscribe()

	middleware.GetLogger(c).Info("event stream opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case <-a.closing:
			return false
		case e, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("change", e)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}
