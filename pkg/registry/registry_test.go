package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewoutp/kiruna/pkg/config"
)

func TestKeyFormat(t *testing.T) {
	tests := []struct {
		name          string
		prefix        string
		service       string
		hostIP        string
		index         int
		containerPort string
		want          string
	}{
		{
			name:          "plain port",
			prefix:        "/kiruna/",
			service:       "etcd",
			hostIP:        "10.0.0.5",
			index:         0,
			containerPort: "4001",
			want:          "/kiruna/etcd/10.0.0.5:0:4001",
		},
		{
			name:          "protocol slash flattened",
			prefix:        "/kiruna/",
			service:       "web-app",
			hostIP:        "10.0.0.5",
			index:         2,
			containerPort: "4001/tcp",
			want:          "/kiruna/web-app/10.0.0.5:2:4001_tcp",
		},
		{
			name:          "empty prefix",
			service:       "web",
			hostIP:        "192.168.1.1",
			index:         1,
			containerPort: "80/tcp",
			want:          "web/192.168.1.1:1:80_tcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.prefix, tt.service, tt.hostIP, tt.index, tt.containerPort)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRequiresHostIP(t *testing.T) {
	_, err := New(config.Registration{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HostIp")
}
