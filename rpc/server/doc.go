// Package server implements the admin HTTP server of a cloud node.
//
// The server is a thin layer over the node: it reports health, metrics and the
// cloud as seen by the node and gives command line clients access to the store
// and the lock manager. Nodes talk to each other through the messenger only, the
// admin API is never used between nodes.
//
// Routes:
//
//	GET    /healthz            {"status":"ok","node":"host:port"}
//	GET    /metrics            Prometheus text format (VictoriaMetrics set + process metrics)
//	GET    /stats              store counters and timers as JSON
//	GET    /cloud              members, generation and peers (common.CloudInfo)
//	GET    /kv/?home=true      names of the user keys held by the node
//	GET    /kv/{key}           value as body, 404 if absent
//	PUT    /kv/{key}           body becomes the value, the previous value is returned
//	                           (201 if there was none). "If-None-Match: *" only
//	                           installs absent keys and answers 412 otherwise.
//	DELETE /kv/{key}           removes the key, the previous value is returned
//	POST   /lock/{key}?timeout=30s     common.LockResponse with the owner id
//	DELETE /lock/{key}?owner=<hex>     common.LockResponse
//
// Every key value response carries the home node of the key in the
// X-Dcloud-Home header. Errors are returned as common.ErrorResponse.
//
// The node is passed as INode, which cloud.Node implements. The server is
// started by the node if an admin endpoint is configured.
package server
