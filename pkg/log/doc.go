/*
Package log is the daemon's single zerolog sink.

Packages derive child loggers scoped by component, service, or container;
the global level follows the manifest's Logging section and can change at
reload time. AttachContainer forwards a dead container's stdout/stderr into
the same sink so the last output of a crashed service ends up in the daemon
log.

Usage:

	log.Setup("info", false, nil)
	logger := log.Component("supervisor")
	logger.Info().Str("config", path).Msg("manifest loaded")
*/
package log
