package health

import (
	"context"

	"github.com/docker/docker/api/types/container"
	"github.com/rs/zerolog"

	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/metrics"
)

// Result represents the outcome of evaluating a container's probe list.
type Result struct {
	Healthy bool
	Message string
}

// Check evaluates every configured probe against the container's latest
// inspect payload. All probes must pass for the aggregate to be healthy; a
// container without probes is healthy as soon as it runs. Probe kinds the
// daemon does not understand are logged and treated as passing.
func Check(ctx context.Context, probes []config.Probe, info container.InspectResponse, logger zerolog.Logger) Result {
	result := Result{Healthy: true, Message: "ok"}
	for _, p := range probes {
		switch {
		case p.HTTP != nil:
			if r := checkHTTP(ctx, p.HTTP, info); !r.Healthy {
				result = r
			}
		default:
			logger.Warn().Msg("unknown probe kind, treating as healthy")
		}
		if !result.Healthy {
			break
		}
	}

	if result.Healthy {
		metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
	} else {
		metrics.HealthChecksTotal.WithLabelValues("unhealthy").Inc()
	}
	return result
}
