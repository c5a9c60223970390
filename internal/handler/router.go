package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Support       *SupportHandler
	Admin         *AdminHandler
	Notifications *NotificationHandler
}

// RegisterRoutes mounts every API route. auth must store the caller's
// identity, admin must run after it.
func RegisterRoutes(router *gin.Engine, h Handlers, auth, admin gin.HandlerFunc) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	support := router.Group("/api/support", auth)
	{
		support.POST("/requests", h.Support.CreateRequest)
		support.GET("/requests", h.Support.MyRequests)
		support.GET("/requests/:id", h.Support.GetRequest)
		support.GET("/requests/:id/messages", h.Support.GetThread)
		support.POST("/requests/:id/messages", h.Support.AppendMessage)
		support.GET("/rooms/:id/peers", h.Support.GetPeers)
		support.PUT("/rooms/:id/peers", h.Support.SetPeer)
		support.POST("/push-tokens", h.Notifications.RegisterPushToken)
	}

	notifications := router.Group("/api/notifications", auth)
	{
		notifications.GET("", h.Notifications.GetNotifications)
		notifications.PUT("/:id/read", h.Notifications.MarkAsRead)
	}

	adminAPI := router.Group("/api/admin", auth, admin)
	{
		adminAPI.GET("/requests/pending", h.Admin.Pending)
		adminAPI.GET("/inbox", h.Admin.Inbox)
		adminAPI.POST("/requests/:id/accept", h.Admin.Accept)
		adminAPI.POST("/requests/:id/reject", h.Admin.Reject)
		adminAPI.POST("/requests/:id/close", h.Admin.Close)
		adminAPI.POST("/requests/:id/reply", h.Admin.Reply)
		adminAPI.DELETE("/requests/:id/messages", h.Admin.ClearThread)
		adminAPI.DELETE("/requests/:id/messages/:msgId", h.Admin.DeleteMessage)
		adminAPI.GET("/bans", h.Admin.ListBans)
		adminAPI.PUT("/bans/:uid", h.Admin.Ban)
		adminAPI.DELETE("/bans/:uid", h.Admin.Unban)
		adminAPI.PUT("/admins/:uid", h.Admin.GrantAdmin)
		adminAPI.DELETE("/admins/:uid", h.Admin.RevokeAdmin)
	}
}
