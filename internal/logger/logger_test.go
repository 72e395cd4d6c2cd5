package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  config.LoggerConfig
		wantErr bool
	}{
		{
			name: "valid json config",
			config: config.LoggerConfig{
				Level:  "debug",
				Format: "json",
			},
			wantErr: false,
		},
		{
			name: "valid console config",
			config: config.LoggerConfig{
				Level:  "info",
				Format: "console",
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			config: config.LoggerConfig{
				Level:  "invalid",
				Format: "json",
			},
			wantErr: true,
		},
		{
			name:    "empty config uses defaults",
			config:  config.LoggerConfig{},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	logger.Infow("test structured info", "key", "value", "number", 42)
	logger.Debugw("test structured debug", "key", "value")
	logger.Warnw("test structured warn", "key", "value")
	logger.Errorw("test structured error", "key", "value")
}

func TestStartAndFinishOperation(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	start := time.Now()
	ctx, span := logger.StartOperation(context.Background(), "authflow.SubmitCredentials",
		"email_domain", "acme.com",
	)
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)

	logger.FinishOperation(ctx, span, "authflow.SubmitCredentials", start, errors.New("rejected"))
}

func TestDomainHelpers(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	ctx := context.Background()

	logger.LogAuthEvent(ctx, "mfa_required", map[string]interface{}{"portal": "tenant"})
	logger.LogMigrationProgress(ctx, 7, "target", "local-1", "failed", "error", "boom")
	logger.LogMigrationProgress(ctx, 7, "queue_entry", "local-2", "migrated")
	logger.LogHTTPRequest(ctx, "POST", "http://localhost/auth/login-step1", 401, 12*time.Millisecond)
	logger.LogError(ctx, nil, "noop")
}

func TestWithComponent(t *testing.T) {
	logger, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	componentLogger := logger.WithComponent("session").WithTenant(7)
	assert.NotNil(t, componentLogger)
	componentLogger.Info("test from component logger")
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Infow("discarded", "key", "value")
	assert.NoError(t, logger.Sync())
}
