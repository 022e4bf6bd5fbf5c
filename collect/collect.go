// Package collect receives runs pushed by export.SpectreServer and stores them
// in a local sink.
package collect

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/export"
	"github.com/hb9tf/corrspec/header"
	"github.com/hb9tf/corrspec/logsink"
	"github.com/hb9tf/corrspec/metrics"
)

// SinkFactory opens the sink a pushed run is stored in.
type SinkFactory func(md *header.Metadata) (export.Sink, error)

type openRun struct {
	sink    export.Sink
	records int
}

type Server struct {
	newSink SinkFactory
	log     logsink.Logger
	// Metrics counts stored records, nil disables it.
	Metrics *metrics.Collector

	mu   sync.Mutex
	runs map[string]*openRun
}

func New(newSink SinkFactory, log logsink.Logger) *Server {
	if log == nil {
		log = logsink.Discard{}
	}
	return &Server{
		newSink: newSink,
		log:     log,
		runs:    map[string]*openRun{},
	}
}

// RegisterRoutes adds the collection endpoints below /corrspec/v1:
//
//	POST /corrspec/v1/runs             - open a run from its header
//	GET  /corrspec/v1/runs             - list open runs
//	POST /corrspec/v1/runs/:id/records - append the next record
//	POST /corrspec/v1/runs/:id/close   - finalize the run
func (s *Server) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/" + export.RunsEndpoint)
	g.POST("", s.handleOpen)
	g.GET("", s.handleList)
	g.POST("/:id/records", s.handleRecord)
	g.POST("/:id/close", s.handleClose)
}

func fail(c *gin.Context, code int, runID string, err error) {
	c.JSON(code, export.CollectResponse{Status: "error", RunID: runID, Error: err.Error()})
}

func (s *Server) handleOpen(c *gin.Context) {
	md := &header.Metadata{}
	if err := c.ShouldBindJSON(md); err != nil {
		fail(c, http.StatusBadRequest, "", err)
		return
	}
	if md.RunID == "" {
		fail(c, http.StatusBadRequest, "", fmt.Errorf("run has no ID"))
		return
	}
	md.RestoreIntCards()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[md.RunID]; ok {
		fail(c, http.StatusConflict, md.RunID, fmt.Errorf("run %s is already open", md.RunID))
		return
	}
	sink, err := s.newSink(md)
	if err != nil {
		fail(c, http.StatusInternalServerError, md.RunID, err)
		return
	}
	if err := sink.WriteHeader(md); err != nil {
		sink.Close()
		fail(c, http.StatusInternalServerError, md.RunID, err)
		return
	}
	s.runs[md.RunID] = &openRun{sink: sink}
	s.log.Infof("opened run %s (%d spectra in %s mode, %d channels)", md.RunID, md.NSpec, md.Mode, md.NChan)
	c.JSON(http.StatusOK, export.CollectResponse{Status: "ok", RunID: md.RunID})
}

func (s *Server) handleList(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := make([]export.CollectResponse, 0, len(s.runs))
	for id, r := range s.runs {
		resp = append(resp, export.CollectResponse{Status: "open", RunID: id, Records: r.records})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecord(c *gin.Context) {
	id := c.Param("id")
	rec := &corr.Record{}
	if err := c.ShouldBindJSON(rec); err != nil {
		fail(c, http.StatusBadRequest, id, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		fail(c, http.StatusNotFound, id, fmt.Errorf("run %s is not open", id))
		return
	}
	// Records arrive in order and exactly once.
	if rec.Seq != r.records+1 {
		fail(c, http.StatusConflict, id, fmt.Errorf("got record %d, want %d", rec.Seq, r.records+1))
		return
	}
	err := r.sink.WriteRecord(rec)
	s.Metrics.SinkWrite(err)
	if err != nil {
		fail(c, http.StatusInternalServerError, id, err)
		return
	}
	r.records++
	s.log.Debugf(2, "run %s: stored record %d", id, rec.Seq)
	c.JSON(http.StatusOK, export.CollectResponse{Status: "ok", RunID: id, Records: r.records})
}

func (s *Server) handleClose(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		fail(c, http.StatusNotFound, id, fmt.Errorf("run %s is not open", id))
		return
	}
	delete(s.runs, id)
	if err := r.sink.Close(); err != nil {
		fail(c, http.StatusInternalServerError, id, err)
		return
	}
	s.log.Infof("closed run %s with %d records", id, r.records)
	c.JSON(http.StatusOK, export.CollectResponse{Status: "ok", RunID: id, Records: r.records})
}

// Close finalizes all runs still open, e.g. when the server shuts down.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, r := range s.runs {
		if err := r.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", id, err))
		}
		delete(s.runs, id)
	}
	return errors.Join(errs...)
}
