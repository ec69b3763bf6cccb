package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var (
	errNoHTTPClient = errors.New("http client not configured")
	errCircuitOpen  = errors.New("circuit breaker open")
)

// httpSource pulls asset bytes over HTTP from a templated URL. A circuit
// breaker guards the origin; there is no retry loop here — retries, if any,
// belong to the calling orchestrator.
type httpSource struct {
	urlTemplate string
	client      *http.Client
	circuit     *gobreaker.CircuitBreaker
}

func newHTTPSource(options map[string]string, client *http.Client) (*httpSource, error) {
	if client == nil {
		return nil, errNoHTTPClient
	}
	urlTemplate := options["url_template"]
	if urlTemplate == "" {
		return nil, errors.New("http provider requires a url_template option")
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "raster-http-source",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &httpSource{
		urlTemplate: urlTemplate,
		client:      client,
		circuit:     cb,
	}, nil
}

func (s *httpSource) Name() string { return SourceHTTP }

func (s *httpSource) Fetch(ctx context.Context, key Key) ([]byte, error) {
	url := expandKeyTemplate(s.urlTemplate, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	result, err := s.circuit.Execute(func() (interface{}, error) {
		resp, execErr := s.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		return nil, err
	}

	data, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return data, nil
}
