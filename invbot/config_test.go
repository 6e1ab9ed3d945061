package invbot

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
	assert.Equal(t, DefaultStartupTimeout, cfg.StartupTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultCreateCommandsPerMinute, cfg.CreateCommandsPerMinute)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, DefaultDiscordLogLevel, cfg.Discord.LogLevel.Level())
	assert.Equal(t, DefaultDiscordGatewayIntent, cfg.Discord.GatewayIntents)
	assert.Equal(t, DefaultDiscordStartupMessage, cfg.Discord.StartupMessage)

	require.NotNil(t, cfg.API)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, DefaultReadTimeout, cfg.API.ReadTimeout)
	assert.Equal(t, DefaultCORSMaxAge, cfg.API.CORS.MaxAge)
	assert.Equal(t, DefaultCORSAllowMethods, cfg.API.CORS.AllowMethods)
}

func TestNewRequiresDiscordCredentials(t *testing.T) {
	cfg := DefaultConfig()
	_, err := New(cfg)
	require.Error(t, err, "missing discord token should fail validation")

	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-app"
	bot, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, bot.discord)
	assert.NotNil(t, bot.renderer)
}

func TestNewRejectsBadDatabaseType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-app"
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestCORSGINConfig(t *testing.T) {
	corsConfig := DefaultCORSConfig()
	corsConfig.AllowOrigins = []string{"https://example.com"}

	ginConfig := corsConfig.GINConfig()
	assert.Equal(t, corsConfig.AllowOrigins, ginConfig.AllowOrigins)
	assert.Equal(t, corsConfig.AllowMethods, ginConfig.AllowMethods)
	assert.Equal(t, corsConfig.AllowHeaders, ginConfig.AllowHeaders)
	assert.Equal(t, corsConfig.ExposeHeaders, ginConfig.ExposeHeaders)
	assert.Equal(t, corsConfig.MaxAge, ginConfig.MaxAge)
	assert.Equal(t, corsConfig.AllowCredentials, ginConfig.AllowCredentials)
}

func TestConfigLogValueRedactsToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "super-secret"

	logValue := cfg.Discord.LogValue()
	for _, attr := range logValue.Group() {
		if attr.Key == "token" {
			assert.Equal(t, "[redacted]", attr.Value.String())
			return
		}
	}
	t.Fatal("token attribute not found in log value")
}

func TestLogLevelVarsAreIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel.Set(slog.LevelDebug)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	assert.Equal(t, DefaultDiscordLogLevel, cfg.Discord.LogLevel.Level())
	assert.Equal(t, DefaultDatabaseLogLevel, cfg.DatabaseLogLevel.Level())
}
