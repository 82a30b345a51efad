/*
Package metrics exposes Prometheus metrics for the kiruna daemon: rollout
counts and durations, container state gauges, health probe outcomes, registry
write results, and janitor activity. Handler serves them on the status
endpoint's /metrics path.
*/
package metrics
