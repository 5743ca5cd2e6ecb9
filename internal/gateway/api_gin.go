package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/adarelay/internal/metrics"
	"github.com/lhdbsbz/adarelay/internal/relay"
	"github.com/lhdbsbz/adarelay/internal/sunco"
)

const apiPrefix = "/api"

const codeSetupRequired = "SETUP_REQUIRED"

func (s *Server) registerAPIRoutes(engine *gin.Engine) {
	api := engine.Group(apiPrefix)
	api.POST("/messages", s.ginSendMessage)
	api.GET("/messages", s.ginLatestMessage)
}

type sendMessageBody struct {
	TicketID        string `json:"ticketId"`
	CustomerMessage string `json:"customerMessage"`
	HashedID        string `json:"hashedId"`
}

func (s *Server) ginSendMessage(c *gin.Context) {
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		metrics.RelayRequestsTotal.WithLabelValues("send", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	messageID, err := s.Relay.Send(c.Request.Context(), relay.SendRequest{
		TicketID: body.TicketID,
		Text:     body.CustomerMessage,
		TenantID: body.HashedID,
	})
	if err != nil {
		abortRelayError(c, "send", "Failed to send message", err,
			"ticketId", body.TicketID, "hashedId", body.HashedID)
		return
	}
	metrics.RelayRequestsTotal.WithLabelValues("send", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"messageId": messageID})
}

func (s *Server) ginLatestMessage(c *gin.Context) {
	ticketID := c.Query("ticketId")
	tenantID := c.Query("hashedId")

	msg, err := s.Relay.Latest(c.Request.Context(), relay.LatestRequest{
		TicketID: ticketID,
		TenantID: tenantID,
		After:    c.Query("after"),
	})
	if err != nil {
		abortRelayError(c, "latest", "Failed to get messages", err,
			"ticketId", ticketID, "hashedId", tenantID)
		return
	}
	metrics.RelayRequestsTotal.WithLabelValues("latest", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"latestMessage": msg})
}

// abortRelayError logs err with the request context and answers with a
// generic message. Only the setup-required condition is exposed to the widget.
func abortRelayError(c *gin.Context, endpoint, generic string, err error, attrs ...any) {
	switch {
	case errors.Is(err, relay.ErrInvalidRequest):
		metrics.RelayRequestsTotal.WithLabelValues(endpoint, "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ticketId and message are required"})
	case errors.Is(err, relay.ErrConfigNotFound):
		metrics.RelayRequestsTotal.WithLabelValues(endpoint, "setup_required").Inc()
		slog.Info("relay request without configuration", append(attrs, "endpoint", endpoint)...)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error": "Configuration not found. Complete setup first.",
			"code":  codeSetupRequired,
		})
	default:
		metrics.RelayRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		slog.Error("relay request failed", append(attrs, "endpoint", endpoint, "error", err)...)
		var apiErr *sunco.APIError
		if errors.As(err, &apiErr) && apiErr.IsAuth() {
			slog.Warn("upstream rejected credentials, check the key id and secret saved at setup",
				append(attrs, "status", apiErr.StatusCode)...)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": generic})
	}
}
