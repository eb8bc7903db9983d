package percy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// maxTokenResponseSize bounds how much of the token response is read.
const maxTokenResponseSize = 1 << 20

// Session types sent to the token endpoint.
const (
	sessionTypeApp      = "app"
	sessionTypeAutomate = "automate"
)

// tokenResponse is the body returned by the project-token endpoint.
type tokenResponse struct {
	Token       string `json:"token"`
	Success     bool   `json:"success"`
	CaptureMode string `json:"percy_capture_mode"`
}

// tokenRequestURL builds the project-token URL with its query parameters.
//
// name and percy_capture_mode are only sent when configured; type is app
// for app sessions and automate otherwise; percy is always sent.
func (p *Percy) tokenRequestURL() (string, error) {
	u, err := url.Parse(p.config.TokenURL)
	if err != nil {
		return "", fmt.Errorf("parsing token url: %w", err)
	}

	q := u.Query()
	if p.config.ProjectName != "" {
		q.Set("name", p.config.ProjectName)
	}
	if p.config.targetsApp() {
		q.Set("type", sessionTypeApp)
	} else {
		q.Set("type", sessionTypeAutomate)
	}
	if p.config.CaptureMode != "" {
		q.Set("percy_capture_mode", p.config.CaptureMode)
	}
	q.Set("percy", strconv.FormatBool(p.config.Enabled))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// fetchToken asks the vendor API for a Percy project token.
//
// On success it records the vendor-reported capture mode and enablement on
// the session. Every failure is wrapped in ErrTokenFetch.
func (p *Percy) fetchToken(ctx context.Context) (string, error) {
	reqURL, err := p.tokenRequestURL()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenFetch, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.TokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %w", ErrTokenFetch, err)
	}
	req.SetBasicAuth(p.config.Username, p.config.AccessKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", ErrTokenFetch, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseSize)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrTokenFetch, err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: %w", ErrTokenFetch, ErrEmptyToken)
	}

	p.mu.Lock()
	p.captureMode = body.CaptureMode
	p.enabled = body.Success
	if !p.config.Enabled && body.Success {
		p.autoEnabled = true
	}
	p.mu.Unlock()

	p.logger.Debug("percy token fetched",
		"token_length", len(body.Token),
		"capture_mode", body.CaptureMode,
		"success", body.Success,
	)

	return body.Token, nil
}
