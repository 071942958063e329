// 运维接口：健康检查、运行状态和 Prometheus 指标
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/ccfos/rds-slowsql-alert/center/slowlog"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/toolkits/pkg/logger"
)

type Router struct {
	Status *slowlog.StatusBoard
	// MaxCycleAge 超过该时长没有完成一轮即视为不健康
	MaxCycleAge time.Duration
	now         func() time.Time
}

func New(status *slowlog.StatusBoard, maxCycleAge time.Duration) *Router {
	return &Router{
		Status:      status,
		MaxCycleAge: maxCycleAge,
		now:         time.Now,
	}
}

// Engine 构建 gin 引擎并注册全部路由
func (rt *Router) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	pprof.Register(r, "/debug/pprof")
	rt.Config(r)
	return r
}

func (rt *Router) Config(r *gin.Engine) {
	r.GET("/metrics", rt.metrics)

	pages := r.Group("/api/v1")
	rt.configSlowSQLRoutes(pages)
}

// Serve 启动 HTTP 服务，ctx 结束后优雅关闭
func (rt *Router) Serve(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           rt.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http server listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrapf(err, "http server on %s", listen)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("http server shutdown: %v", err)
	}
	logger.Info("http server stopped")
	return nil
}
