package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warpcomdev/ratcam/internal/ratcamlog"
)

// startDebugServer mounts the Prometheus /metrics handler on MAIN, the
// way the teacher's cmd/driver/main.go mounts promhttp.Handler() next to
// its own mjpeg/jpeg routes. addr is empty-safe: an empty addr disables
// the server rather than binding an arbitrary port.
func startDebugServer(logger ratcamlog.Logger, addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug server stopped", ratcamlog.Error(err))
		}
	}()
	return srv
}

func stopDebugServer(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
}
