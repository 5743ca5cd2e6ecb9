package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/adarelay/internal/metrics"
	"github.com/lhdbsbz/adarelay/internal/tenant"
)

// setupForm accepts the setup page's urlencoded post or the same fields as JSON.
type setupForm struct {
	AppID        string `form:"suncoAppId" json:"suncoAppId"`
	KeyID        string `form:"suncoKeyId" json:"suncoKeyId"`
	Secret       string `form:"suncoSecret" json:"suncoSecret"`
	InstanceName string `form:"adaInstanceName" json:"adaInstanceName"`
}

func (s *Server) ginSetupPage(c *gin.Context) {
	data, err := webFS.ReadFile("web/setup.html")
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

func (s *Server) ginSetupSubmit(c *gin.Context) {
	var form setupForm
	if err := c.ShouldBind(&form); err != nil {
		metrics.SetupsTotal.WithLabelValues("invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid form"})
		return
	}

	id, err := s.Relay.Setup(c.Request.Context(), tenant.Config{
		AppID:        form.AppID,
		KeyID:        form.KeyID,
		Secret:       form.Secret,
		InstanceName: form.InstanceName,
	})
	if errors.Is(err, tenant.ErrInvalid) {
		metrics.SetupsTotal.WithLabelValues("invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "suncoAppId, suncoKeyId and suncoSecret are required",
		})
		return
	}
	if err != nil {
		metrics.SetupsTotal.WithLabelValues("error").Inc()
		slog.Error("setup failed", "instance", form.InstanceName, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to save configuration",
		})
		return
	}

	metrics.SetupsTotal.WithLabelValues("ok").Inc()
	slog.Info("tenant configured", "tenant", id, "instance", form.InstanceName)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"hashedId": id,
		"message":  "Configuration saved successfully",
	})
}
