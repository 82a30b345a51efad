/*
Package health evaluates manifest probes against a container's inspect
payload. A probe resolves its target through the engine's published port
bindings, so only endpoints actually reachable from the host count as
healthy. Services without probes are healthy whenever their container runs.
*/
package health
