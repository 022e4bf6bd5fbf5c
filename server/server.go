package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb9tf/corrspec/collect"
	"github.com/hb9tf/corrspec/export"
	"github.com/hb9tf/corrspec/header"
	"github.com/hb9tf/corrspec/logsink"
	"github.com/hb9tf/corrspec/metrics"
)

var (
	listen   = flag.String("listen", ":8443", "")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	output   = flag.String("output", "fits", "Storage for received runs (one of: fits, sqlite, mysql)")

	// FITS
	fitsDir = flag.String("fitsDir", "/tmp", "Directory received runs are written to, one FITS file per run.")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/corrspec.db", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "corrspec", "Name of the DB to use.")
)

func sinkFactory(log logsink.Logger) (collect.SinkFactory, error) {
	switch strings.ToLower(*output) {
	case "fits":
		return func(md *header.Metadata) (export.Sink, error) {
			// The ID names the file, only accept what the collector generates.
			if _, err := uuid.Parse(md.RunID); err != nil {
				return nil, fmt.Errorf("run ID %q is not a UUID: %w", md.RunID, err)
			}
			return &export.FITS{Path: filepath.Join(*fitsDir, md.RunID+".fits")}, nil
		}, nil
	case "sqlite", "mysql":
		var (
			db  *sql.DB
			err error
		)
		if strings.ToLower(*output) == "sqlite" {
			db, err = export.OpenSQLite(*sqliteFile)
		} else {
			db, err = export.OpenMySQL(export.MySQLOptions{
				Server:       *mysqlServer,
				User:         *mysqlUser,
				PasswordFile: *mysqlPasswordFile,
				DBName:       *mysqlDBName,
			})
		}
		if err != nil {
			return nil, err
		}
		return func(*header.Metadata) (export.Sink, error) {
			return &export.SQL{DB: db, Log: log}, nil
		}, nil
	}
	return nil, fmt.Errorf("%q is not a supported storage, pick one of: fits, sqlite, mysql", *output)
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	log := logsink.Glog{}
	newSink, err := sinkFactory(log)
	if err != nil {
		glog.Exitf("unable to set up storage: %s", err)
	}
	collector := collect.New(newSink, log)
	collector.Metrics = metrics.NewCollector(prometheus.DefaultRegisterer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	collector.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    *listen,
		Handler: router,
	}
	go func() {
		var err error
		if *certFile != "" || *keyFile != "" {
			err = srv.ListenAndServeTLS(*certFile, *keyFile)
		} else {
			glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Exitf("server failed: %s", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("unable to shut down server: %s", err)
	}
	// Runs still open are finalized with what they received so far.
	if err := collector.Close(); err != nil {
		glog.Errorf("unable to finalize open runs: %s", err)
	}
}
