package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	cfg, err := load(env(nil))
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 5*time.Second, cfg.ExternalTimeout)
	assert.Equal(t, 30*time.Second, cfg.RoomGracePeriod)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.NotEmpty(t, cfg.DatabaseDSN)
	assert.False(t, cfg.StorageEnabled())
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	_, err := load(env(map[string]string{"ENVIRONMENT": "production"}))
	require.ErrorContains(t, err, "JWT_SECRET")

	_, err = load(env(map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "s"}))
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":                 "8081",
		"CORS_ORIGIN":          "https://a.example, https://b.example ,",
		"EXTERNAL_TIMEOUT":     "750ms",
		"ROOM_GRACE_PERIOD":    "0s",
		"S3_BUCKET_NAME":       "attachments",
		"S3_ENDPOINT":          "https://s3.example",
		"S3_ACCESS_KEY_ID":     "id",
		"S3_SECRET_ACCESS_KEY": "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.ExternalTimeout)
	assert.Zero(t, cfg.RoomGracePeriod)
	assert.True(t, cfg.StorageEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []map[string]string{
		{"PORT": "eighty"},
		{"PORT": "80"},
		{"EXTERNAL_TIMEOUT": "soon"},
		{"EXTERNAL_TIMEOUT": "0s"},
		{"ROOM_GRACE_PERIOD": "-1s"},
		{"MAX_BODY_BYTES": "0"},
		{"S3_BUCKET_NAME": "attachments"},
	}

	for _, vars := range tests {
		_, err := load(env(vars))
		assert.Error(t, err, "%v", vars)
	}
}
