package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"parcelharvest/internal/config"
	"parcelharvest/internal/model"
)

// Client issues requests against the property data source. Rate limiting
// and retries are the caller's concern; the client only executes one
// request, classifies the outcome, and reports timings.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// Request describes one collection fetch.
type Request struct {
	Type       model.CollectionType
	SubjectKey string
	Params     model.JobParams
}

// Result is a successful fetch.
type Result struct {
	Payload   []byte
	FetchedAt time.Time
}

// Outcome pairs a result with its error for the asynchronous path.
type Outcome struct {
	Result *Result
	Err    error
}

// New creates a property data source client
func New(cfg config.RemoteConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	log.Info().
		Str("base_url", cfg.BaseURL).
		Dur("request_timeout", timeout).
		Msg("Initializing property data source client")

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
	}
}

// endpoint maps a collection type onto the data source's URL layout.
func (c *Client) endpoint(req Request) (string, error) {
	var path string
	switch req.Type {
	case model.CollectionProperty:
		path = fmt.Sprintf("/parcels/%s", req.SubjectKey)
	case model.CollectionOwnerHistory:
		path = fmt.Sprintf("/parcels/%s/owners", req.SubjectKey)
	case model.CollectionTaxRecords:
		path = fmt.Sprintf("/parcels/%s/taxes", req.SubjectKey)
	default:
		return "", &PermanentError{Detail: fmt.Sprintf("no endpoint for collection type %q", req.Type)}
	}

	url := c.baseURL + path
	if req.Params != nil {
		if q := req.Params.Query().Encode(); q != "" {
			url += "?" + q
		}
	}
	return url, nil
}

// Fetch executes one synchronous request. The returned error is ErrNotFound,
// a *TransientError, or a *PermanentError; callers branch on that taxonomy.
func (c *Client) Fetch(ctx context.Context, req Request) (*Result, error) {
	requestID := fmt.Sprintf("req_%d", time.Now().UnixNano())
	startTime := time.Now()

	url, err := c.endpoint(req)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("request_id", requestID).
		Str("subject", req.SubjectKey).
		Str("type", string(req.Type)).
		Str("url", url).
		Msg("Preparing data source request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Err(err).
			Str("url", url).
			Msg("Error creating request")
		return nil, &PermanentError{Detail: fmt.Sprintf("error creating request: %v", err)}
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	execStart := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().
			Str("request_id", requestID).
			Err(err).
			Str("url", url).
			Dur("exec_duration", time.Since(execStart)).
			Msg("Error executing request")
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().
			Str("request_id", requestID).
			Err(err).
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Msg("Error reading response body")
		return nil, &TransientError{Err: fmt.Errorf("error reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyStatus(resp.StatusCode, respBody)
		log.Error().
			Str("request_id", requestID).
			Err(classified).
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Dur("total_duration", time.Since(startTime)).
			Msg("Data source returned error response")
		return nil, classified
	}

	log.Debug().
		Str("request_id", requestID).
		Str("url", url).
		Int("status_code", resp.StatusCode).
		Int("response_size", len(respBody)).
		Dur("total_duration", time.Since(startTime)).
		Msg("Data source request completed successfully")

	return &Result{Payload: respBody, FetchedAt: startTime}, nil
}

// FetchAsync runs Fetch in its own goroutine and delivers the outcome on
// the returned channel. The goroutine holds no pool lease or rate token;
// callers acquire those around the receive if they need them.
func (c *Client) FetchAsync(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		result, err := c.Fetch(ctx, req)
		out <- Outcome{Result: result, Err: err}
		close(out)
	}()
	return out
}
