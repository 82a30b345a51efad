package service

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ewoutp/kiruna/pkg/config"
)

// Postfix marks a container as owned by this daemon. A container whose name
// lacks it is never touched by cleanup.
const Postfix = "_kir"

// SpecHash identifies a service generation: the first 16 hex characters of
// SHA-1 over the serialized spec plus the daemon version. Any spec or daemon
// change produces a new hash and therefore a new set of container names.
func SpecHash(spec config.ServiceSpec, version string) string {
	serialized, _ := json.Marshal(spec)
	sum := sha1.Sum(append(serialized, []byte(version)...))
	return hex.EncodeToString(sum[:])[:16]
}

// ContainerName is the canonical name for one replica of a generation.
func ContainerName(service, hash string, index int) string {
	return fmt.Sprintf("%s-%s__%d%s", service, hash, index, Postfix)
}

// Owned reports whether the daemon manages a container, by name alone.
func Owned(name string) bool {
	return strings.Contains(name, Postfix)
}

// matchesOldContainer selects containers eligible for retirement. rawName is
// the engine's name entry including its leading slash; entries with more
// than one slash are linked aliases, not containers. Without force, the
// current generation is spared.
func matchesOldContainer(rawName, service, hash string, force bool) bool {
	name := strings.TrimPrefix(rawName, "/")
	if !strings.HasPrefix(name, service+"-") {
		return false
	}
	if !Owned(name) {
		return false
	}
	if strings.Count(rawName, "/") > 1 {
		return false
	}
	if !force && strings.Contains(name, hash) {
		return false
	}
	return true
}
