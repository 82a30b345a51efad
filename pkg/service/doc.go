/*
Package service drives the per-service rollout state machine.

A Service owns up to Scale replicas of one manifest entry. Launching
collects already-running containers of the current generation, clears the
ground on a hard deploy, and creates what is missing, in replica order.
Container lifecycle events aggregate to service-level started, allStarted,
and stopped events on the application's event hub; dependency events come back
the same way. Every mutating step runs on the service's serialized work
queue, so two rollouts of the same service can never interleave.

Container names encode ownership and identity: <service>-<hash16>__<index>_kir,
where hash16 fingerprints the spec and daemon version. The name alone decides
whether the daemon owns a container, which service and replica it is, and
whether it belongs to the current generation.
*/
package service
