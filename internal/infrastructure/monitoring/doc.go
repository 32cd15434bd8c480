/*
Package monitoring provides Prometheus metrics for the playground service.

Every Metrics value owns its registry, so servers and tests can build as
many as they need. A nil *Metrics records nothing.

Tracked:

  - HTTP requests (latency, size, status) per route template
  - Cached sessions, boot attempts by result and failing stage, boot duration
  - Writes by result and per-workspace boot breaker state
  - Terminal output bytes, dropped bytes, target switches
  - WebSocket observers and messages

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics)
	// ... boot ...
	timer.Stop(false, "mount")
*/
package monitoring
