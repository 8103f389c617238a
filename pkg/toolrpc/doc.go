// Package toolrpc exposes backend business functions to the reasoning
// engine and other clients through a small request/response protocol over
// a persistent duplex connection.
//
// Requests and responses are JSON objects:
//
//	-> {"id": 7, "method": "tool.call", "params": {"name": "lookup_order", "args": {"order_id": "A1"}}}
//	<- {"id": 7, "result": {...}}
//	<- {"id": 7, "error": {"code": "invalid_params", "message": "..."}}
//
// A connection may carry many in-flight requests. Each is answered once,
// correlated only by id, in whatever order the tools finish.
//
// Tools live in a Registry built once at startup. Arguments are checked
// against the tool's JSON schema before the tool runs.
package toolrpc
