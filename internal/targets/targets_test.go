package targets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate/internal/platform/config"
	"medgate/pkg/platform/circuit"
	"medgate/pkg/requestcontext"
)

func testConfigs() []config.TargetConfig {
	return []config.TargetConfig{
		{Name: "reports", BaseURL: "http://reports.internal:8002/api", RoutePrefix: "/reports/", Timeout: time.Second, RequiredPermissions: []string{"reports:read", "reports:write"}},
		{Name: "local-ai", BaseURL: "http://localhost:11434", HealthPath: "/api/tags", Timeout: time.Second},
	}
}

func TestNew_BuildsTargetsWithBreakers(t *testing.T) {
	reg, err := New(testConfigs())
	require.NoError(t, err)

	reports, ok := reg.Get("reports")
	require.True(t, ok)
	assert.Equal(t, "/reports", reports.RoutePrefix)
	assert.Equal(t, "/health", reports.HealthPath)
	assert.Equal(t, "reports", reports.Breaker.Name())
	assert.Equal(t, circuit.StateClosed, reports.Breaker.State())

	b, ok := reg.Breakers().Get("local-ai")
	require.True(t, ok)
	local, _ := reg.Get("local-ai")
	assert.Same(t, local.Breaker, b)

	assert.Len(t, reg.All(), 2)
	require.Len(t, reg.Proxied(), 1)
	assert.Equal(t, "reports", reg.Proxied()[0].Name)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New([]config.TargetConfig{{Name: "a", BaseURL: "not a url"}})
	assert.Error(t, err)

	_, err = New([]config.TargetConfig{
		{Name: "a", BaseURL: "http://a"},
		{Name: "a", BaseURL: "http://b"},
	})
	assert.Error(t, err)
}

func TestTarget_HealthURL(t *testing.T) {
	reg, err := New(testConfigs())
	require.NoError(t, err)

	reports, _ := reg.Get("reports")
	assert.Equal(t, "http://reports.internal:8002/api/health", reports.HealthURL())
	local, _ := reg.Get("local-ai")
	assert.Equal(t, "http://localhost:11434/api/tags", local.HealthURL())
}

func TestTarget_StripPrefix(t *testing.T) {
	tg := &Target{RoutePrefix: "/reports"}
	assert.Equal(t, "/123", tg.StripPrefix("/reports/123"))
	assert.Equal(t, "/", tg.StripPrefix("/reports"))
	assert.Equal(t, "/health", tg.StripPrefix("/reports/health"))
}

func TestTarget_Authorize(t *testing.T) {
	tg := &Target{RequiredPermissions: []string{"reports:read", "reports:write"}}

	assert.True(t, tg.Authorize(requestcontext.Identity{UserID: "u1", Permissions: []string{"reports:read"}}))
	assert.False(t, tg.Authorize(requestcontext.Identity{UserID: "u1", Permissions: []string{"summaries:read"}}))
	assert.False(t, tg.Authorize(requestcontext.Identity{UserID: "u1"}))

	open := &Target{}
	assert.True(t, open.Authorize(requestcontext.Identity{UserID: "u1"}))
}

func TestIsHealthEndpoint(t *testing.T) {
	for _, p := range []string{"/health", "/metrics", "/ready", "/live", "/health/deep"} {
		assert.True(t, IsHealthEndpoint(p), p)
	}
	for _, p := range []string{"/", "/healthy", "/reports/health", "/123"} {
		assert.False(t, IsHealthEndpoint(p), p)
	}
}
