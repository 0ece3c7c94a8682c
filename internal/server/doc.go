// Package server exposes the balancer over HTTP and serves the gRPC health
// protocol for the balancer process itself.
//
// HTTP endpoints:
//
//	GET  /heartbeat     liveness
//	GET  /rep           healthy replicas
//	POST /add           add servers: {"n": 2, "hostnames": ["S5"]}
//	POST /rm            remove servers, same body
//	GET  /checkpoint    members and per-server request counts
//	GET  /home          route a fresh request id
//	GET  /route/:id     route a caller supplied request id
//	GET  /stats         ring occupancy
package server
