// Package api implements the bridge's read-only HTTP status surface.
//
// Endpoints:
//
//	GET /api/v1/health    dependency checks; 503 when any fails
//	GET /api/v1/metrics   pipeline, enrollment, gateway and runtime counters
//	GET /api/v1/gateway   gateway connection status
//	GET /api/v1/sensors   sensor inventory (503 when the database is disabled)
//	GET /metrics          Prometheus exposition
//
// Nothing here changes bridge state. Scans are only started over MQTT.
//
// The server is built with New and served with Run, which blocks until its
// context is cancelled:
//
//	srv, err := api.New(deps)
//	g.Go(func() error { return srv.Run(ctx) })
package api
