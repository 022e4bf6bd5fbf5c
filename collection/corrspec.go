package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb9tf/corrspec/acquire"
	"github.com/hb9tf/corrspec/config"
	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/export"
	"github.com/hb9tf/corrspec/filter"
	"github.com/hb9tf/corrspec/geometry"
	"github.com/hb9tf/corrspec/hardware"
	"github.com/hb9tf/corrspec/header"
	"github.com/hb9tf/corrspec/logsink"
	"github.com/hb9tf/corrspec/metrics"
	"github.com/hb9tf/corrspec/run"
)

// Flags
var (
	configFile = flag.String("config", "", "Path of a YAML config file. Flags set on the command line take precedence.")
	outFile    = flag.String("file", "", "Name of the output FITS file.")
	nspec      = flag.Int("nspec", 10, "Number of spectra to collect.")
	coords     = flag.String("coords", "", "Target coordinates as two comma separated degrees, e.g. 120,45 (l,b or ra,dec).")
	frame      = flag.String("frame", "ga", "Coordinate frame of -coords (one of: ga, eq)")
	backend    = flag.String("backend", hardware.SourceName, "Correlator backend to use (one of: sim)")

	host    = flag.String("host", "", "Host of the SNAP board.")
	fpgFile = flag.String("fpgfile", "", "FPG file the SNAP is programmed with.")
	nchan   = flag.Int("nchan", 0, "Number of frequency channels.")
	mode    = flag.String("mode", "", "Acquisition mode (one of: corr, spec, cross)")
	batch   = flag.Bool("batch", false, "Hold all spectra back and write them once the run has ended.")
	output  = flag.String("output", "", "Export mechanism to use (one of: fits, fits-batch, sqlite, mysql, csv, spectre)")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "", "Name of the DB to use.")

	// Spectre Server
	spectreServer = flag.String("spectreServer", "", "URL scheme, address and port of the collection server.")

	metricsAddr = flag.String("metricsAddr", "", "Address to serve prometheus metrics on, e.g. :9100 (disabled if empty).")
)

// applyFlags copies the flags set on the command line into cfg.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Instrument.Host = *host
		case "fpgfile":
			cfg.Instrument.FPGFile = *fpgFile
		case "nchan":
			cfg.Instrument.NChan = *nchan
		case "mode":
			cfg.Acquisition.Mode = strings.ToLower(*mode)
		case "batch":
			cfg.Acquisition.Batch = *batch
		case "output":
			cfg.Output.Kind = strings.ToLower(*output)
		case "sqliteFile":
			cfg.Output.SQLiteFile = *sqliteFile
		case "mysqlServer":
			cfg.Output.MySQL.Server = *mysqlServer
		case "mysqlUser":
			cfg.Output.MySQL.User = *mysqlUser
		case "mysqlPasswordFile":
			cfg.Output.MySQL.PasswordFile = *mysqlPasswordFile
		case "mysqlDBName":
			cfg.Output.MySQL.DBName = *mysqlDBName
		case "spectreServer":
			cfg.Output.SpectreServer = *spectreServer
		case "metricsAddr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})
}

func parseCoords(s string) ([2]float64, error) {
	var out [2]float64
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return out, fmt.Errorf("want two comma separated values, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, fmt.Errorf("unable to parse coordinate %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func openSink(cfg *config.Config, log logsink.Logger) (export.Sink, error) {
	switch cfg.Output.Kind {
	case config.OutputFITS, config.OutputFITSBatch:
		if *outFile == "" {
			return nil, fmt.Errorf("-file is required for %s output", cfg.Output.Kind)
		}
		if cfg.Output.Kind == config.OutputFITSBatch {
			return &export.FITSBatch{Path: *outFile}, nil
		}
		return &export.FITS{Path: *outFile}, nil
	case config.OutputSQLite:
		db, err := export.OpenSQLite(cfg.Output.SQLiteFile)
		if err != nil {
			return nil, err
		}
		return &export.SQL{DB: db, Log: log}, nil
	case config.OutputMySQL:
		db, err := export.OpenMySQL(export.MySQLOptions{
			Server:       cfg.Output.MySQL.Server,
			User:         cfg.Output.MySQL.User,
			PasswordFile: cfg.Output.MySQL.PasswordFile,
			DBName:       cfg.Output.MySQL.DBName,
		})
		if err != nil {
			return nil, err
		}
		return &export.SQL{DB: db, Log: log}, nil
	case config.OutputCSV:
		return &export.CSV{}, nil
	case config.OutputSpectre:
		return &export.SpectreServer{
			Server: cfg.Output.SpectreServer,
			Client: &http.Client{Timeout: 30 * time.Second},
		}, nil
	}
	return nil, fmt.Errorf("%q is not a supported export method, pick one of: fits, fits-batch, sqlite, mysql, csv, spectre", cfg.Output.Kind)
}

type board interface {
	corr.Accumulator
	hardware.Initializer
}

// newDriver rejects a bad frame before touching the board, then brings the
// board up and opens the sink.
func newDriver(cfg *config.Config, obs *corr.Run, b board, log logsink.Logger, collector *metrics.Collector) (*run.Driver, error) {
	frame, err := geometry.ParseFrame(obs.Frame)
	if err != nil {
		return nil, err
	}
	obs.Frame = string(frame)

	if err := hardware.Initialize(b, log); err != nil {
		return nil, fmt.Errorf("unable to initialize the correlator: %w", err)
	}
	sink, err := openSink(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("unable to set up export: %w", err)
	}

	opts := cfg.AcquireOptions()
	opts.Checks = []filter.Checker{
		&filter.Length{Mode: opts.Mode, NChan: cfg.Instrument.NChan},
		&filter.Finite{},
	}
	return &run.Driver{
		Builder: &header.Builder{Location: cfg.Location()},
		Source:  acquire.New(b, opts, log, collector),
		Sink:    sink,
		Batch:   cfg.Acquisition.Batch,
		Log:     log,
		Metrics: collector,
	}, nil
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			glog.Exitf("unable to load config: %s", err)
		}
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		glog.Exitf("invalid configuration: %s", err)
	}

	target, err := parseCoords(*coords)
	if err != nil {
		glog.Exitf("invalid -coords: %s", err)
	}

	log := logsink.Glog{}

	var collector *metrics.Collector
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		collector = metrics.NewCollector(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			glog.Errorf("metrics server stopped: %s", http.ListenAndServe(cfg.Metrics.Addr, mux))
		}()
	}

	obs := &corr.Run{
		Coords:  target,
		Frame:   *frame,
		NSpec:   *nspec,
		Mode:    cfg.AcquireOptions().Mode,
		NChan:   cfg.Instrument.NChan,
		FPGFile: cfg.Instrument.FPGFile,
		Host:    cfg.Instrument.Host,
	}

	// Correlator setup
	var b board
	switch strings.ToLower(*backend) {
	case hardware.SourceName:
		b = &hardware.Simulator{
			NChan:           cfg.Instrument.NChan,
			IntegrationTime: cfg.Instrument.IntegrationTime,
			Skew:            cfg.Instrument.Skew,
		}
	default:
		glog.Exitf("%q is not a supported backend, pick one of: %s", *backend, hardware.SourceName)
	}

	driver, err := newDriver(cfg, obs, b, log, collector)
	if err != nil {
		glog.Exitf("unable to prepare the run: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := driver.Run(ctx, obs)
	fmt.Fprintf(os.Stderr, "Run %s: collected %d of %d spectra in %s\n", sum.RunID, sum.Records, sum.Requested, sum.Elapsed.Round(time.Millisecond))
	if err != nil {
		glog.Errorf("run failed: %s", err)
		glog.Flush()
		os.Exit(1)
	}
}
