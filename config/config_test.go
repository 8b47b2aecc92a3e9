package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "camera.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadCameraConfigValid(t *testing.T) {
	path := writeTemp(t, `
agent:
  path: /usr/local/bin/imx296-agent
sensor:
  width: 400
  height: 400
  fps: 100
ring:
  capacity: 1500
`)
	cfg, err := LoadCameraConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Sensor.Width)
	assert.Equal(t, 100, cfg.Sensor.FPS)
	assert.Equal(t, "h264", cfg.Sensor.Codec)
}

func TestLoadCameraConfigMissingResolutionFailsClosed(t *testing.T) {
	path := writeTemp(t, `
agent:
  path: /usr/local/bin/imx296-agent
sensor:
  fps: 100
`)
	_, err := LoadCameraConfig(path)
	assert.ErrorIs(t, err, ErrMissingResolution)
}

func TestLoadCameraConfigMissingFPSFailsClosed(t *testing.T) {
	path := writeTemp(t, `
agent:
  path: /usr/local/bin/imx296-agent
sensor:
  width: 400
  height: 400
`)
	_, err := LoadCameraConfig(path)
	assert.ErrorIs(t, err, ErrMissingFPS)
}

func TestLoadCameraConfigOddResolutionRejected(t *testing.T) {
	path := writeTemp(t, `
agent:
  path: /usr/local/bin/imx296-agent
sensor:
  width: 401
  height: 400
  fps: 100
`)
	_, err := LoadCameraConfig(path)
	assert.ErrorIs(t, err, ErrResolutionOdd)
}

func TestRingCapacityDefaultsTo1500(t *testing.T) {
	path := writeTemp(t, `
agent:
  path: /usr/local/bin/imx296-agent
sensor:
  width: 400
  height: 400
  fps: 100
`)
	cfg, err := LoadCameraConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Ring.Capacity)
}
