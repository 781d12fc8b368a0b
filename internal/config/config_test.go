package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, validate.Struct(cfg))
}

func TestLoadWithNoPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Ports, 1)
	assert.Equal(t, "loopback", cfg.Ports[0].Transport)
}

func TestValidationRejectsUnknownTransport(t *testing.T) {
	cfg := Default()
	cfg.Ports[0].Transport = "carrier-pigeon"
	assert.Error(t, validate.Struct(cfg))
}

func TestValidationRequiresTargetForNonLoopback(t *testing.T) {
	cfg := Default()
	cfg.Ports[0].Transport = "serial"
	cfg.Ports[0].BaudRate = 115200
	assert.Error(t, validate.Struct(cfg))
}
