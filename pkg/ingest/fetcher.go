package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mimir-aip/triage-ml/pkg/config"
	"github.com/mimir-aip/triage-ml/pkg/models"
)

// DefaultQuery is the GraphQL selection sent in POST mode when none is configured
const DefaultQuery = `query {
  triajes {
    id
    nombrePaciente
    temperatura
    frecuenciaCardiaca
    frecuenciaRespiratoria
    saturacionOxigeno
    peso
    estatura
    alergias
    enfermedadesCronicas
    motivoConsulta
  }
}`

// maxBodyBytes bounds how much of a response is read
const maxBodyBytes = 32 << 20

// Fetcher retrieves the full remote dataset
type Fetcher interface {
	Fetch(ctx context.Context) ([]RemoteRecord, error)
}

// HTTPFetcher reads the remote dataset over HTTP. GET is a plain REST call;
// POST sends a GraphQL query document.
type HTTPFetcher struct {
	client  *http.Client
	url     string
	method  string
	query   string
	headers map[string]string
}

// NewHTTPFetcher creates a fetcher from the remote configuration
func NewHTTPFetcher(cfg config.RemoteConfig) (*HTTPFetcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: remote url is required", models.ErrValidation)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: unsupported remote method %q", models.ErrValidation, cfg.Method)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	query := cfg.Query
	if query == "" {
		query = DefaultQuery
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		url:     cfg.URL,
		method:  method,
		query:   query,
		headers: cfg.Headers,
	}, nil
}

// Fetch performs one request. Transport failures, non-2xx statuses and
// undecodable bodies are all reported as models.ErrTransientIO.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]RemoteRecord, error) {
	var body io.Reader
	if f.method == http.MethodPost {
		payload, err := json.Marshal(map[string]string{"query": f.query})
		if err != nil {
			return nil, fmt.Errorf("failed to encode query: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, f.method, f.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", models.ErrTransientIO, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", models.ErrTransientIO, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: upstream returned status %d", models.ErrTransientIO, resp.StatusCode)
	}

	return DecodeBody(data)
}
