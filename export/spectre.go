package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/header"
)

const (
	contentType = "application/json"

	RunsEndpoint = "corrspec/v1/runs"
)

// CollectResponse is returned by the collection server for every request.
type CollectResponse struct {
	Status  string `json:"status"`
	RunID   string `json:"runId,omitempty"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// SpectreServer pushes the run to a collection server (see the server command).
type SpectreServer struct {
	Server string
	Client *http.Client

	runID string
}

func (s *SpectreServer) Name() string { return "spectre" }

func (s *SpectreServer) WriteHeader(md *header.Metadata) error {
	if _, err := s.post(RunsEndpoint, md); err != nil {
		return sinkErr(s.Name(), "submit run header", err)
	}
	s.runID = md.RunID
	return nil
}

func (s *SpectreServer) WriteRecord(r *corr.Record) error {
	if s.runID == "" {
		return sinkErr(s.Name(), "submit record", errors.New("no header written"))
	}
	resp, err := s.post(fmt.Sprintf("%s/%s/records", RunsEndpoint, s.runID), r)
	if err != nil {
		return sinkErr(s.Name(), fmt.Sprintf("submit record %d", r.Seq), err)
	}
	if resp.Records != r.Seq {
		return sinkErr(s.Name(), fmt.Sprintf("submit record %d", r.Seq), fmt.Errorf("server holds %d records", resp.Records))
	}
	return nil
}

func (s *SpectreServer) Close() error {
	if s.runID == "" {
		return nil
	}
	if _, err := s.post(fmt.Sprintf("%s/%s/close", RunsEndpoint, s.runID), struct{}{}); err != nil {
		return sinkErr(s.Name(), "close run", err)
	}
	return nil
}

func (s *SpectreServer) post(endpoint string, v any) (*CollectResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshalling to JSON: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Post(fmt.Sprintf("%s/%s", strings.TrimRight(s.Server, "/"), endpoint), contentType, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	out := &CollectResponse{}
	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server responded %s: %s", resp.Status, out.Error)
	}
	return out, nil
}
