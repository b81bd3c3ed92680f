// Package ws streams the live queue to WebSocket clients.
//
// Hub keeps the set of connected clients and pushes the ordered list of live
// message ids to all of them on a fixed interval. A client receives the
// current queue as soon as it connects.
//
// Message format:
//
//	{
//	  "event": "queue",
//	  "data":  {"ids": ["b", "a"], "depth": 2, "generated_at": "..."}
//	}
//
// The server mounts the hub at /ws/queue. Origins are checked with the same
// policy as the REST API when an origin check is supplied.
package ws
