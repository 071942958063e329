package router

import (
	"net/http"

	"github.com/ccfos/rds-slowsql-alert/center/cloudmgmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/toolkits/pkg/ginx"
)

func (rt *Router) configSlowSQLRoutes(pages *gin.RouterGroup) {
	pages.GET("/healthz", rt.healthz)
	pages.GET("/status", rt.status)
	pages.GET("/providers", rt.providers)
}

func (rt *Router) metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}

// healthz 最近一轮超时未完成时返回 503
func (rt *Router) healthz(c *gin.Context) {
	if rt.Status == nil || rt.Status.Healthy(rt.now(), rt.MaxCycleAge) {
		c.String(http.StatusOK, "ok")
		return
	}
	c.String(http.StatusServiceUnavailable, "stale")
}

func (rt *Router) status(c *gin.Context) {
	if rt.Status == nil {
		ginx.NewRender(c).Message("status board not enabled")
		return
	}
	ginx.NewRender(c).Data(rt.Status.Snapshot(), nil)
}

func (rt *Router) providers(c *gin.Context) {
	ginx.NewRender(c).Data(cloudmgmt.GetSupportedProviders(), nil)
}
