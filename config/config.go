// Package config loads the instrument and run settings shared by the
// commands. Command line flags that are set explicitly take precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hb9tf/corrspec/acquire"
	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/geometry"
	"github.com/hb9tf/corrspec/hardware"
)

// Output kinds.
const (
	OutputFITS      = "fits"
	OutputFITSBatch = "fits-batch"
	OutputSQLite    = "sqlite"
	OutputMySQL     = "mysql"
	OutputCSV       = "csv"
	OutputSpectre   = "spectre"
)

var outputs = []string{OutputFITS, OutputFITSBatch, OutputSQLite, OutputMySQL, OutputCSV, OutputSpectre}

type Config struct {
	Instrument  InstrumentConfig  `yaml:"instrument"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Observatory ObservatoryConfig `yaml:"observatory"`
	Output      OutputConfig      `yaml:"output"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type InstrumentConfig struct {
	Host    string `yaml:"host"`
	FPGFile string `yaml:"fpgfile"`
	NChan   int    `yaml:"nchan"`
	// Simulator settings.
	IntegrationTime time.Duration `yaml:"integration_time"`
	Skew            time.Duration `yaml:"skew"`
}

type AcquisitionConfig struct {
	Mode           string        `yaml:"mode"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxDesyncPolls int           `yaml:"max_desync_polls"`
	Batch          bool          `yaml:"batch"`
}

type ObservatoryConfig struct {
	Lat *float64 `yaml:"lat"`
	Lon *float64 `yaml:"lon"`
	Alt *float64 `yaml:"alt"`
}

type OutputConfig struct {
	Kind          string      `yaml:"kind"`
	SQLiteFile    string      `yaml:"sqlite_file"`
	MySQL         MySQLConfig `yaml:"mysql"`
	SpectreServer string      `yaml:"spectre_server"`
}

type MySQLConfig struct {
	Server       string `yaml:"server"`
	User         string `yaml:"user"`
	PasswordFile string `yaml:"password_file"`
	DBName       string `yaml:"db_name"`
}

type MetricsConfig struct {
	// Addr enables the /metrics endpoint if set.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config %q: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Instrument.Host == "" {
		c.Instrument.Host = "localhost"
	}
	if c.Instrument.FPGFile == "" {
		c.Instrument.FPGFile = "ugradio_corrspec.fpg"
	}
	if c.Instrument.NChan == 0 {
		c.Instrument.NChan = 1024
	}
	if c.Instrument.IntegrationTime == 0 {
		c.Instrument.IntegrationTime = hardware.DefaultIntegrationTime
	}
	if c.Acquisition.Mode == "" {
		c.Acquisition.Mode = string(corr.ModeCorr)
	}
	c.Acquisition.Mode = strings.ToLower(c.Acquisition.Mode)
	if c.Acquisition.PollInterval == 0 {
		c.Acquisition.PollInterval = acquire.DefaultPollInterval
	}
	if c.Acquisition.Timeout == 0 {
		c.Acquisition.Timeout = acquire.DefaultTimeout
	}
	if c.Acquisition.MaxDesyncPolls == 0 {
		c.Acquisition.MaxDesyncPolls = acquire.DefaultMaxDesyncPolls
	}
	if c.Observatory.Lat == nil {
		v := geometry.Leuschner.Lat
		c.Observatory.Lat = &v
	}
	if c.Observatory.Lon == nil {
		v := geometry.Leuschner.Lon
		c.Observatory.Lon = &v
	}
	if c.Observatory.Alt == nil {
		v := geometry.Leuschner.Alt
		c.Observatory.Alt = &v
	}
	if c.Output.Kind == "" {
		c.Output.Kind = OutputFITS
	}
	c.Output.Kind = strings.ToLower(c.Output.Kind)
	if c.Output.SQLiteFile == "" {
		c.Output.SQLiteFile = "/tmp/corrspec.db"
	}
	if c.Output.MySQL.Server == "" {
		c.Output.MySQL.Server = "127.0.0.1:3306"
	}
	if c.Output.MySQL.DBName == "" {
		c.Output.MySQL.DBName = "corrspec"
	}
}

func (c *Config) Validate() error {
	if c.Instrument.NChan < 1 {
		return fmt.Errorf("instrument.nchan must be positive, got %d", c.Instrument.NChan)
	}
	if c.Instrument.Skew < 0 {
		return fmt.Errorf("instrument.skew must not be negative, got %s", c.Instrument.Skew)
	}
	if _, err := corr.ParseMode(c.Acquisition.Mode); err != nil {
		return fmt.Errorf("acquisition.mode: %w", err)
	}
	if c.Acquisition.PollInterval < 0 || c.Acquisition.Timeout < 0 {
		return fmt.Errorf("acquisition intervals must not be negative")
	}
	if c.Acquisition.PollInterval >= c.Acquisition.Timeout {
		return fmt.Errorf("acquisition.poll_interval (%s) must be shorter than acquisition.timeout (%s)", c.Acquisition.PollInterval, c.Acquisition.Timeout)
	}
	if c.Acquisition.MaxDesyncPolls < 1 {
		return fmt.Errorf("acquisition.max_desync_polls must be positive, got %d", c.Acquisition.MaxDesyncPolls)
	}
	if lat := *c.Observatory.Lat; lat < -90 || lat > 90 {
		return fmt.Errorf("observatory.lat out of range: %f", lat)
	}
	if !isOutput(c.Output.Kind) {
		return fmt.Errorf("%q is not a supported output, pick one of: %s", c.Output.Kind, strings.Join(outputs, ", "))
	}
	if c.Output.Kind == OutputMySQL && c.Output.MySQL.User == "" {
		return fmt.Errorf("output.mysql.user is required for mysql output")
	}
	if c.Output.Kind == OutputSpectre && c.Output.SpectreServer == "" {
		return fmt.Errorf("output.spectre_server is required for spectre output")
	}
	return nil
}

func isOutput(kind string) bool {
	for _, o := range outputs {
		if o == kind {
			return true
		}
	}
	return false
}

// Location is the configured observatory.
func (c *Config) Location() geometry.Location {
	return geometry.Location{Lat: *c.Observatory.Lat, Lon: *c.Observatory.Lon, Alt: *c.Observatory.Alt}
}

// AcquireOptions translates the acquisition settings.
func (c *Config) AcquireOptions() acquire.Options {
	return acquire.Options{
		Mode:           corr.Mode(c.Acquisition.Mode),
		PollInterval:   c.Acquisition.PollInterval,
		Timeout:        c.Acquisition.Timeout,
		MaxDesyncPolls: c.Acquisition.MaxDesyncPolls,
	}
}
