package percy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// healthcheckPath is appended to the server address.
	healthcheckPath = "/percy/healthcheck"

	// maxHealthResponseSize bounds how much of the health response is read.
	maxHealthResponseSize = 1 << 20
)

// pollState is the state of the start-up health poll.
type pollState int

const (
	statePolling pollState = iota
	stateHealthy
	stateExited
	stateCancelled
)

// healthcheckURL returns the local health endpoint.
func (p *Percy) healthcheckURL() string {
	return strings.TrimRight(p.config.ServerAddress, "/") + healthcheckPath
}

// CheckServer performs one health check against the server described by cfg
// and returns the reported build id. Unlike New it needs no credentials.
func CheckServer(ctx context.Context, cfg Config) (int64, error) {
	cfg.applyDefaults()
	p := &Percy{config: cfg, logger: noopLogger{}, httpClient: &http.Client{}}
	return p.checkHealth(ctx)
}

// checkHealth issues a single health request and returns the reported build id.
// Any transport failure, non-2xx status or missing build.id is ErrUnhealthy.
func (p *Percy) checkHealth(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthcheckURL(), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %w", ErrUnhealthy, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrUnhealthy, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHealthResponseSize))
	if err != nil {
		return 0, fmt.Errorf("%w: reading response: %w", ErrUnhealthy, err)
	}

	return parseBuildID(body)
}

// parseBuildID extracts build.id from a health response.
// The CLI reports it either as a number or as a numeric string.
func parseBuildID(body []byte) (int64, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("%w: invalid JSON", ErrUnhealthy)
	}

	id := gjson.GetBytes(body, "build.id")
	switch id.Type {
	case gjson.Number:
		return id.Int(), nil
	case gjson.String:
		n, err := strconv.ParseInt(id.Str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w: %q", ErrUnhealthy, ErrMissingBuildID, id.Str)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %w", ErrUnhealthy, ErrMissingBuildID)
	}
}

// awaitHealthy polls the health endpoint until it succeeds or exited is closed.
//
// There is no overall timeout: the loop ends on the first successful check,
// on process exit, or on ctx cancellation. Exit is checked before every
// request, so a CLI that dies before becoming healthy always yields false.
func (p *Percy) awaitHealthy(ctx context.Context, exited <-chan struct{}) bool {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	state := statePolling
	for state == statePolling {
		select {
		case <-exited:
			state = stateExited
			continue
		default:
		}

		if p.Healthcheck(ctx) {
			state = stateHealthy
			continue
		}

		select {
		case <-exited:
			state = stateExited
		case <-ctx.Done():
			state = stateCancelled
		case <-ticker.C:
		}
	}

	switch state {
	case stateExited:
		p.logger.Warn("percy exited before becoming healthy")
	case stateCancelled:
		p.logger.Warn("percy health polling cancelled", "error", ctx.Err())
	}

	return state == stateHealthy
}
