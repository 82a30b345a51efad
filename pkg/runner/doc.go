/*
Package runner watches one live container.

A Runner owns an engine container from adoption until a terminal stop. Its
watch loop inspects and probes the container on a timer: slow (15s) after a
healthy check, fast (250ms) before the first one and after any failed check.
Healthy checks re-publish
the container's endpoints into the registry; unhealthy checks after startup
burn a four-failure budget before the runner stops the container. The
started and stopped events are edge-triggered and fire at most once each.
*/
package runner
