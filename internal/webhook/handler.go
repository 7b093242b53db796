package webhook

import (
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/OpenVidu/openvidu-meet-sub009/pkg/response"
)

// Handler exposes webhook configuration over HTTP.
type Handler struct {
	settings *Settings
	notifier *Notifier
	logger   *zap.Logger
}

// NewHandler creates a webhook configuration handler.
func NewHandler(settings *Settings, notifier *Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{settings: settings, notifier: notifier, logger: logger}
}

type settingsRequest struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

type testRequest struct {
	URL string `json:"url" binding:"required"`
}

// Get handles GET /api/config/webhooks.
func (h *Handler) Get(c *gin.Context) {
	settings, err := h.settings.Current(c.Request.Context())
	if err != nil {
		h.logger.Error("load webhook settings failed", zap.Error(err))
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.OK(c, settings)
}

// Update handles PUT /api/config/webhooks.
func (h *Handler) Update(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Enabled && !validWebhookURL(req.URL) {
		response.BadRequest(c, "url must be a valid http(s) URL")
		return
	}
	if req.URL != "" && !validWebhookURL(req.URL) {
		response.BadRequest(c, "url must be a valid http(s) URL")
		return
	}
	updated, err := h.settings.Update(c.Request.Context(), req.Enabled, req.URL)
	if err != nil {
		h.logger.Error("update webhook settings failed", zap.Error(err))
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	h.logger.Info("webhook settings updated", zap.Bool("enabled", updated.Enabled), zap.String("url", updated.URL))
	response.OK(c, updated)
}

// Test handles POST /api/config/webhooks/test. It probes the given URL with
// a signed test event and reports reachability.
func (h *Handler) Test(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !validWebhookURL(req.URL) {
		response.BadRequest(c, "url must be a valid http(s) URL")
		return
	}
	if err := h.notifier.TestURL(c.Request.Context(), req.URL); err != nil {
		response.BadGateway(c, "webhook endpoint unreachable: "+err.Error())
		return
	}
	response.OK(c, gin.H{"reachable": true})
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
