package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/ewoutp/kiruna/pkg/config"
)

// probeTimeout bounds one HTTP probe round trip.
const probeTimeout = 5 * time.Second

// insecureClient skips certificate verification: probes target self-signed
// local endpoints, not public hosts.
var insecureClient = &http.Client{
	Timeout: probeTimeout,
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
}

// checkHTTP issues one GET against the probe's published host port and
// requires a 200. A port the engine has not published fails the probe
// without error: the container is simply not reachable yet.
func checkHTTP(ctx context.Context, probe *config.HTTPProbe, info container.InspectResponse) Result {
	hostPort, ok := resolveHostPort(string(probe.Port), info)
	if !ok {
		return Result{Message: fmt.Sprintf("port %s is not published", probe.Port)}
	}

	ip := probe.IP
	if ip == "" {
		ip = "127.0.0.1"
	}
	protocol := probe.Protocol
	if protocol == "" {
		protocol = "http"
	}
	url := fmt.Sprintf("%s://%s:%s%s", protocol, ip, hostPort, probe.Path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Message: fmt.Sprintf("invalid probe url %s: %v", url, err)}
	}
	resp, err := insecureClient.Do(req)
	if err != nil {
		return Result{Message: fmt.Sprintf("probe %s failed: %v", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Message: fmt.Sprintf("probe %s returned %d", url, resp.StatusCode)}
	}
	return Result{Healthy: true, Message: "ok"}
}

// resolveHostPort looks up the host port the engine bound for a container
// port. Accepts "80" and "80/tcp" probe spellings.
func resolveHostPort(port string, info container.InspectResponse) (string, bool) {
	if info.NetworkSettings == nil {
		return "", false
	}
	key := nat.Port(port)
	if !strings.Contains(port, "/") {
		key = nat.Port(port + "/tcp")
	}
	bindings := info.NetworkSettings.Ports[key]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return "", false
	}
	return bindings[0].HostPort, true
}
