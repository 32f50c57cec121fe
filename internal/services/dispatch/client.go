package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
)

// Client triggers the external render service over HTTP. Every request
// carries a Google identity token for the service audience, and outbound
// triggers are rate limited so a large retry storm cannot flood the
// render service with cold starts.
type Client struct {
	renderURL   string
	callbackURL string
	httpClient  *http.Client
	tokens      oauth2.TokenSource
	limiter     *rate.Limiter
	logger      arbor.ILogger
}

// NewClient builds a render service client from the dispatch config.
func NewClient(config *common.DispatchConfig, tokens oauth2.TokenSource, logger arbor.ILogger) *Client {
	triggerRate := config.TriggerRate
	if triggerRate <= 0 {
		triggerRate = 5
	}
	burst := config.TriggerBurst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		renderURL:   config.RenderURL,
		callbackURL: config.CallbackURL,
		httpClient:  &http.Client{Timeout: config.RequestTimeout},
		tokens:      tokens,
		limiter:     rate.NewLimiter(rate.Limit(triggerRate), burst),
		logger:      logger,
	}
}

// triggerRequest is the wire body sent to the render service. The callback
// URL tells the renderer where to report per-row completion.
type triggerRequest struct {
	Emission    interfaces.EmissionPayload `json:"emission"`
	Rows        []interfaces.RowPayload    `json:"rows"`
	CallbackURL string                     `json:"callbackUrl"`
}

func (c *Client) TriggerBatch(ctx context.Context, trigger interfaces.RenderTrigger) error {
	c.logger.Info().
		Str("emission_id", trigger.Emission.ID).
		Int("rows", len(trigger.Rows)).
		Msg("Triggering render batch")

	return c.post(ctx, triggerRequest{
		Emission:    trigger.Emission,
		Rows:        trigger.Rows,
		CallbackURL: c.callbackURL,
	})
}

func (c *Client) TriggerRowRetry(ctx context.Context, emission interfaces.EmissionPayload, row interfaces.RowPayload) error {
	c.logger.Info().
		Str("emission_id", emission.ID).
		Str("row_id", row.ID).
		Msg("Triggering render retry for row")

	return c.post(ctx, triggerRequest{
		Emission:    emission,
		Rows:        []interfaces.RowPayload{row},
		CallbackURL: c.callbackURL,
	})
}

func (c *Client) post(ctx context.Context, body triggerRequest) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.renderURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("failed to obtain identity token: %w", err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("render service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("render service returned %d: %s", resp.StatusCode, string(snippet))
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	return nil
}
