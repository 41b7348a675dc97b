// Package handlers contains reusable HTTP pieces of the read API: health
// checks and middleware.
//
// # Health Checks
//
// Required checks make /health return 503; optional ones (the Postgres and
// Redis mirrors) only degrade the reported status:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("leaderboard", handlers.NewLoadedCheck(src))
//	checker.AddOptionalCheck("freshness", handlers.NewFreshnessCheck(src, 30*time.Minute, nil))
//	checker.AddOptionalCheck("postgres", handlers.NewPingCheck(conn))
//
// # Middleware
//
// TokenAuth guards admin endpoints (POST /api/update) with a shared token
// compared in constant time. Chain composes middleware outermost first:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.NoCacheMiddleware,
//	)
package handlers
