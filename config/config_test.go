package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EGRESS_SEGMENT_DURATION", "6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 6, cfg.Egress.SegmentDuration)
	assert.Equal(t, 250, cfg.Playback.TickMs)
	assert.Equal(t, "echosphere-recordings", cfg.AWS.RecordingsBucket)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

func TestConnectionOptions(t *testing.T) {
	db := DatabaseConfig{MaxConns: 8, ConnectTimeoutSec: 3}
	opts := db.PoolOptions()
	assert.Equal(t, int32(8), opts.MaxConns)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)

	r := RedisConfig{Addr: "cache:6379", DB: 2}
	assert.Equal(t, "cache:6379", r.RedisOptions().Addr)
	assert.Equal(t, 2, r.RedisOptions().DB)
}
