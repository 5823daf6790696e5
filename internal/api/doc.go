// Package api provides the bridge's HTTP REST API and WebSocket feed.
//
// The REST surface under /api/v1 lists devices, writes property values,
// drives the pairing state machine and serves reading history. The
// WebSocket hub is itself a hwmon.Notifier: added, removed and
// property-changed notifications are broadcast to subscribed clients.
//
//	server, err := api.New(deps)
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Close()
//
// When security.jwt.secret is set every route except health and metrics
// requires an HS256 bearer token whose role grants the route's permission.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
