package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/corrspec/config"
	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/hardware"
	"github.com/hb9tf/corrspec/logsink"
)

func testRun(frame string) *corr.Run {
	return &corr.Run{Coords: [2]float64{120, 45}, Frame: frame, NSpec: 1, Mode: corr.ModeCorr, NChan: 16}
}

func TestNewDriverRejectsFrameBeforeHardware(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Kind = config.OutputCSV
	sim := &hardware.Simulator{NChan: 16, IntegrationTime: time.Millisecond}
	log := &logsink.Recorder{}

	driver, err := newDriver(cfg, testRun("xx"), sim, log, nil)
	var bad *corr.InvalidFrameError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "xx", bad.Frame)
	assert.Nil(t, driver)

	// The board was never contacted.
	assert.False(t, sim.IsRunning())
	assert.Empty(t, log.Lines)
}

func TestNewDriverBringsUpBoard(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Kind = config.OutputCSV
	sim := &hardware.Simulator{NChan: 16, IntegrationTime: time.Millisecond}
	obs := testRun("GA")

	driver, err := newDriver(cfg, obs, sim, logsink.Discard{}, nil)
	require.NoError(t, err)
	assert.True(t, sim.IsRunning())
	assert.Equal(t, "ga", obs.Frame)
	assert.Equal(t, "csv", driver.Sink.Name())
}

func TestParseCoords(t *testing.T) {
	c, err := parseCoords("120, 45.5")
	require.NoError(t, err)
	assert.Equal(t, [2]float64{120, 45.5}, c)

	_, err = parseCoords("120")
	assert.Error(t, err)
	_, err = parseCoords("a,b")
	assert.Error(t, err)
}
