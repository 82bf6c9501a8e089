package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventmap/internal/domain/geo"
	geosvc "eventmap/internal/service/geo"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CorsOrigins)
	assert.Equal(t, geo.UnitMiles, cfg.Geo.RadiusUnit)
	assert.InDelta(t, 16.0934, cfg.Geo.DefaultRadiusKm(), 1e-9)
	assert.Equal(t, geosvc.DefaultClusterThresholdKm, cfg.Geo.ClusterThreshold)
	assert.Equal(t, geosvc.ClusterTransitive, cfg.Geo.ClusterMode)
	assert.Equal(t, 8*time.Second, cfg.Geo.GPSTimeout)
	assert.Equal(t, "mapview", cfg.MapView.StateTopic)
	assert.Equal(t, "auth.state", cfg.MapView.AuthTopic)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GEO_DEFAULT_RADIUS", "25")
	t.Setenv("GEO_RADIUS_UNIT", "km")
	t.Setenv("GEO_CLUSTER_MODE", "anchor")
	t.Setenv("GEO_DEFAULT_LOCATION", "33.4484,-112.074")
	t.Setenv("GEO_GPS_TIMEOUT", "3s")
	t.Setenv("GEO_TIMEZONE", "UTC")
	t.Setenv("MAPVIEW_SESSION_TTL", "5m")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CorsOrigins)
	assert.Equal(t, 25.0, cfg.Geo.DefaultRadiusKm())
	assert.Equal(t, geosvc.ClusterAnchor, cfg.Geo.ClusterMode)
	assert.Equal(t, geo.GeoPoint{Latitude: 33.4484, Longitude: -112.074}, cfg.Geo.DefaultLocation)
	assert.Equal(t, 3*time.Second, cfg.Geo.GPSTimeout)
	assert.Equal(t, time.UTC, cfg.Geo.TimeZone)
	assert.Equal(t, 5*time.Minute, cfg.MapView.SessionTTL)
}

func TestFromEnv_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	t.Setenv("MAPVIEW_SESSION_TTL", "soon")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.MapView.SessionTTL)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"cluster mode", "GEO_CLUSTER_MODE", "kmeans"},
		{"default location", "GEO_DEFAULT_LOCATION", "somewhere"},
		{"default location range", "GEO_DEFAULT_LOCATION", "95,10"},
		{"radius", "GEO_DEFAULT_RADIUS", "-1"},
		{"threshold", "GEO_CLUSTER_THRESHOLD", "0"},
		{"timezone", "GEO_TIMEZONE", "Mars/Olympus_Mons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestValidate_ProductionNeedsDatabasePassword(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("DB_PASSWORD", "s3cret")
	_, err = FromEnv()
	assert.NoError(t, err)
}
