package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstance_Address(t *testing.T) {
	assert.Equal(t, "10.0.0.1:8080", Instance{Host: "10.0.0.1", Port: 8080}.Address())
	assert.Equal(t, "[::1]:80", Instance{Host: "::1", Port: 80}.Address())
	assert.Equal(t, "svc.local:0", Instance{Host: "svc.local"}.Address())
}

func TestInstance_Group(t *testing.T) {
	assert.Equal(t, "default", Instance{}.Group("default"))
	assert.Equal(t, "default", Instance{Metadata: map[string]string{"group": ""}}.Group("default"))
	assert.Equal(t, "canary", Instance{Metadata: map[string]string{"group": "canary"}}.Group("default"))
}

func TestInstance_Routable(t *testing.T) {
	assert.True(t, Instance{Healthy: true}.Routable())
	assert.False(t, Instance{Healthy: false}.Routable())
	assert.False(t, Instance{Healthy: true, Isolate: true}.Routable())
}

func TestService_MapKey(t *testing.T) {
	m := map[Service]int{}
	m[Service{Namespace: "ns", Name: "a"}]++
	m[Service{Namespace: "ns", Name: "a"}]++
	m[Service{Namespace: "ns", Name: "b"}]++
	assert.Len(t, m, 2)
	assert.Equal(t, "ns/a", Service{Namespace: "ns", Name: "a"}.String())
}
