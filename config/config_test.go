package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(newViper())
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "8000", cfg.App.Port)
	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Inventory.ReservationTTL)
	assert.Equal(t, 3, cfg.Connectors.MaxRetries)
	assert.Equal(t, "development-secret", cfg.JWT.Secret)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RC_STORE_DRIVER", "memory")
	t.Setenv("RC_APP_PORT", "9090")
	t.Setenv("RC_INVENTORY_RESERVATION_TTL", "5m")
	t.Setenv("RC_JWT_SECRET", "s3cret")

	cfg, err := FromViper(newViper())
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 5*time.Minute, cfg.Inventory.ReservationTTL)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"RC_STORE_DRIVER": "postgres"}},
		{"production without secret", map[string]string{"RC_APP_ENV": "production"}},
		{"postmark without token", map[string]string{"RC_EMAIL_PROVIDER": "postmark"}},
		{"unknown email provider", map[string]string{"RC_EMAIL_PROVIDER": "smtp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromViper(newViper())
			assert.Error(t, err)
		})
	}
}
