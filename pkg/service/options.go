package service

import (
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/ewoutp/kiruna/pkg/config"
)

// natPort normalizes a manifest port ("4001" or "4001/tcp") to the engine's
// port key.
func natPort(port string) nat.Port {
	if strings.Contains(port, "/") {
		return nat.Port(port)
	}
	return nat.Port(port + "/tcp")
}

// createConfig maps the spec onto the engine's create-time options.
func createConfig(spec config.ServiceSpec) *container.Config {
	cfg := &container.Config{
		Image: spec.ImageRef(),
		Cmd:   append([]string(nil), spec.Cmd...),
	}

	if len(spec.Expose) > 0 {
		cfg.ExposedPorts = nat.PortSet{}
		for _, p := range spec.Expose {
			cfg.ExposedPorts[natPort(string(p))] = struct{}{}
		}
	}

	if len(spec.Environment) > 0 {
		keys := make([]string, 0, len(spec.Environment))
		for k := range spec.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cfg.Env = append(cfg.Env, k+"="+spec.Environment[k])
		}
	}

	return cfg
}

// hostConfig maps the spec onto the engine's start-time options. links are
// preformatted "<containerName>:<alias>" entries for the direct
// dependencies.
func hostConfig(spec config.ServiceSpec, links []string) *container.HostConfig {
	cfg := &container.HostConfig{
		PublishAllPorts: spec.PublishAllPorts,
		Links:           links,
	}

	if len(spec.Ports) > 0 {
		cfg.PortBindings = nat.PortMap{}
		for port, host := range spec.Ports {
			cfg.PortBindings[natPort(port)] = []nat.PortBinding{
				{HostIP: host.HostIP, HostPort: host.HostPort},
			}
		}
	}

	if len(spec.Volumes) > 0 {
		containerPaths := make([]string, 0, len(spec.Volumes))
		for containerPath := range spec.Volumes {
			containerPaths = append(containerPaths, containerPath)
		}
		sort.Strings(containerPaths)
		for _, containerPath := range containerPaths {
			cfg.Binds = append(cfg.Binds, spec.Volumes[containerPath]+":"+containerPath)
		}
	}

	return cfg
}
