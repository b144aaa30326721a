// Package ws implements the WebSocket hub for the strainline process.
//
// Hub manages a set of connected clients and broadcasts the current search
// snapshot (detector status plus recent candidates) to all of them on a
// configurable interval.
//
// New(store, archive, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker; it blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// snapshot immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. WebSocket endpoint is mounted at /ws/stream by the server.
package ws
