package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the decoded service manifest. Services have the manifest's
// Defaults merged in, variables expanded, and are sorted by name so that
// launch order is stable among services without interdependencies.
type Config struct {
	Variables    map[string]string
	Services     []ServiceSpec
	Registration Registration
	Logging      Logging
}

// ServiceSpec describes one desired service. It is immutable after load;
// the container name hash is computed over its JSON serialization.
type ServiceSpec struct {
	Name            string `json:"-"`
	Image           string
	Tag             string
	Registry        string              `json:",omitempty"`
	Scale           int                 `json:",omitempty"`
	Enabled         *bool               `json:",omitempty"`
	HardDeploy      bool                `json:",omitempty"`
	Dependencies    []string            `json:",omitempty"`
	Ports           map[string]HostPort `json:",omitempty"`
	PublishAllPorts bool                `json:",omitempty"`
	Expose          []PortName          `json:",omitempty"`
	Environment     map[string]string   `json:",omitempty"`
	Volumes         map[string]string   `json:",omitempty"`
	Cmd             []string            `json:",omitempty"`
	Health          []Probe             `json:",omitempty"`
	SettleTimeoutMs int                 `json:",omitempty"`
	Register        *bool               `json:",omitempty"`
}

// IsEnabled reports whether the service should be launched. Defaults to true.
func (s *ServiceSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Registers reports whether container endpoints are published to the
// registry. Defaults to true.
func (s *ServiceSpec) Registers() bool {
	return s.Register == nil || *s.Register
}

// ImageRef returns the engine image reference, [registry/]image:tag.
func (s *ServiceSpec) ImageRef() string {
	ref := s.Image + ":" + s.Tag
	if s.Registry != "" {
		ref = s.Registry + "/" + ref
	}
	return ref
}

// DependencyNames returns the dependency service names with aliases stripped.
func (s *ServiceSpec) DependencyNames() []string {
	names := make([]string, 0, len(s.Dependencies))
	for _, d := range s.Dependencies {
		name, _ := SplitDependency(d)
		names = append(names, name)
	}
	return names
}

// SplitDependency splits a "name[:alias]" dependency entry. The alias
// defaults to the dependency's service name.
func SplitDependency(dep string) (name, alias string) {
	if i := strings.Index(dep, ":"); i >= 0 {
		return dep[:i], dep[i+1:]
	}
	return dep, dep
}

// HostPort is the host side of a port binding. A bare number binds the port
// on all interfaces without pinning an address; a "port" string binds on
// 0.0.0.0; an "ip:port" string pins the address.
type HostPort struct {
	HostIP   string `json:"HostIp,omitempty"`
	HostPort string
}

// SplitHostPort parses a string host-port spec.
func SplitHostPort(s string) HostPort {
	if i := strings.Index(s, ":"); i >= 0 {
		return HostPort{HostIP: s[:i], HostPort: s[i+1:]}
	}
	return HostPort{HostIP: "0.0.0.0", HostPort: s}
}

func (h *HostPort) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*h = SplitHostPort(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*h = HostPort{HostPort: n.String()}
		return nil
	}
	var obj struct {
		HostIP   string `json:"HostIp"`
		HostPort string
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid host port spec %s", string(data))
	}
	*h = HostPort{HostIP: obj.HostIP, HostPort: obj.HostPort}
	return nil
}

// PortName is a container port that may appear in the manifest as a JSON
// number or a string ("4001" or "4001/tcp").
type PortName string

func (p *PortName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = PortName(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid port %s", string(data))
	}
	*p = PortName(n.String())
	return nil
}

// Probe is one health probe spec. Unknown kinds decode to a Probe with all
// fields nil; the health engine logs and passes them through.
type Probe struct {
	HTTP *HTTPProbe `json:"Http,omitempty"`
}

// HTTPProbe issues a GET against the container's published host port and
// expects a 200.
type HTTPProbe struct {
	Port     PortName
	IP       string `json:"Ip,omitempty"`
	Path     string `json:",omitempty"`
	Protocol string `json:",omitempty"`
}

// Registration configures the endpoint registry.
type Registration struct {
	Endpoints []string `json:",omitempty"`
	URL       string   `json:"Url,omitempty"`
	Prefix    string   `json:",omitempty"`
	HostIP    string   `json:"HostIp,omitempty"`
	TTL       int      `json:"Ttl,omitempty"`
}

// DefaultRegistryTTL is applied when the manifest omits Ttl.
const DefaultRegistryTTL = 60

// TTLSeconds returns the configured TTL, defaulted.
func (r Registration) TTLSeconds() int64 {
	if r.TTL <= 0 {
		return DefaultRegistryTTL
	}
	return int64(r.TTL)
}

// EndpointList returns the registry endpoints, defaulting to a local etcd.
func (r Registration) EndpointList() []string {
	if len(r.Endpoints) > 0 {
		return r.Endpoints
	}
	if r.URL != "" {
		return []string{r.URL}
	}
	return []string{"http://127.0.0.1:2379"}
}

// Logging configures the process log sink.
type Logging struct {
	Console ConsoleLogging
	Loggly  LogglyLogging
}

type ConsoleLogging struct {
	Level string `json:",omitempty"`
}

// LogglyLogging is accepted for manifest compatibility. Only console output
// is wired; a non-empty Token produces a warning at load time.
type LogglyLogging struct {
	Level     string   `json:",omitempty"`
	SubDomain string   `json:",omitempty"`
	Token     string   `json:",omitempty"`
	Tags      []string `json:",omitempty"`
}
