/*
Package api serves the daemon's HTTP status endpoint: a small JSON document
on / (ok, up, state, version) and Prometheus metrics on /metrics.
*/
package api
