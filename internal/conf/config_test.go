package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	c := &Config{}
	c.Server.Listen = "0.0.0.0:11434"
	c.Upstream.URL = "http://localhost:1234"
	c.Resolver.CacheTTLSeconds = 300
	c.Stream.MaxBufferSize = 262144
	c.Load.TimeoutSeconds = 15
	return c
}

func TestLoadDefaults(t *testing.T) {
	require.NoError(t, Load(""))

	assert.Equal(t, "0.0.0.0:11434", AppConfig.Server.Listen)
	assert.Equal(t, "http://localhost:1234", AppConfig.Upstream.URL)
	assert.Equal(t, 300, AppConfig.Resolver.CacheTTLSeconds)
	assert.Equal(t, 262144, AppConfig.Stream.MaxBufferSize)
	assert.False(t, AppConfig.Stream.EnableChunkRecovery)
	assert.Equal(t, 15, AppConfig.Load.TimeoutSeconds)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(validConfig()))

	c := validConfig()
	c.Server.Listen = "no-port"
	assert.Error(t, Validate(c))

	c = validConfig()
	c.Upstream.URL = "ftp://somewhere"
	assert.Error(t, Validate(c))

	c = validConfig()
	c.Load.TimeoutSeconds = 0
	assert.Error(t, Validate(c))

	c = validConfig()
	c.Stream.MaxBufferSize = 0
	assert.Error(t, Validate(c))

	c = validConfig()
	c.Upstream.URL = "http://localhost:1234/"
	require.NoError(t, Validate(c))
	assert.Equal(t, "http://localhost:1234", c.Upstream.URL)
}
