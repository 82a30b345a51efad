package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ewoutp/kiruna/pkg/config"
	"github.com/ewoutp/kiruna/pkg/log"
	"github.com/ewoutp/kiruna/pkg/metrics"
)

// Publisher writes a container endpoint into the registry. Runners call it
// on every successful health check; the TTL makes stale endpoints expire on
// their own when a container dies.
type Publisher interface {
	PublishEndpoint(ctx context.Context, service string, index int, containerPort, hostPort string) error
}

// Registry publishes endpoints into an etcd keyspace with leased TTLs.
type Registry struct {
	cli    *clientv3.Client
	prefix string
	hostIP string
	ttl    int64
	logger zerolog.Logger
}

// New connects to the registry. A missing HostIp is a configuration error:
// without it no publishable endpoint exists, so construction fails.
func New(cfg config.Registration) (*Registry, error) {
	if cfg.HostIP == "" {
		return nil, fmt.Errorf("registration requires HostIp")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EndpointList(),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry: %w", err)
	}

	return &Registry{
		cli:    cli,
		prefix: cfg.Prefix,
		hostIP: cfg.HostIP,
		ttl:    cfg.TTLSeconds(),
		logger: log.Component("registry"),
	}, nil
}

// PublishEndpoint writes one endpoint with a fresh lease. Failures are
// logged and surfaced but must not tear down the container; the caller
// retries on the next health tick anyway.
func (r *Registry) PublishEndpoint(ctx context.Context, service string, index int, containerPort, hostPort string) error {
	key := Key(r.prefix, service, r.hostIP, index, containerPort)
	value := r.hostIP + ":" + hostPort

	lease, err := r.cli.Grant(ctx, r.ttl)
	if err == nil {
		_, err = r.cli.Put(ctx, key, value, clientv3.WithLease(lease.ID))
	}
	if err != nil {
		metrics.RegistryWritesTotal.WithLabelValues("error").Inc()
		r.logger.Error().Err(err).Str("key", key).Msg("registry write failed")
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	metrics.RegistryWritesTotal.WithLabelValues("ok").Inc()
	r.logger.Debug().Str("key", key).Str("value", value).Msg("endpoint published")
	return nil
}

// Close releases the etcd client.
func (r *Registry) Close() error {
	return r.cli.Close()
}

// Key builds the registry key for one endpoint. The container port's
// protocol slash ("4001/tcp") is flattened to an underscore so the key stays
// a single path segment.
func Key(prefix, service, hostIP string, index int, containerPort string) string {
	port := strings.ReplaceAll(containerPort, "/", "_")
	return prefix + service + "/" + hostIP + ":" + strconv.Itoa(index) + ":" + port
}
