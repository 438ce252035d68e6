package httpapi

import "github.com/gin-gonic/gin"

// Register mounts the provider boundary and the console API on r.
func (h Handlers) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)

	r.POST("/calls", h.CreateCall)
	r.GET("/calls", h.ListCalls)
	r.POST("/summaries", h.Summarize)

	console := r.Group("/console")
	{
		console.GET("/calls", h.ListStoredCalls)
		console.POST("/calls", h.StartCall)
		console.DELETE("/calls", h.ClearCalls)

		console.GET("/calls/:id", h.OpenCall)
		console.POST("/calls/:id/end", h.EndCall)
		console.POST("/calls/:id/refresh", h.RefreshCall)
		console.POST("/calls/:id/summary", h.RegenerateSummary)
		console.DELETE("/calls/:id/session", h.CloseSession)
		console.GET("/calls/:id/events", h.CallEvents)

		console.GET("/stats", h.GetStats)
	}
}
