package secsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/stratumsec/warden/telemetry"
	"github.com/stratumsec/warden/types"
)

// Publisher posts or clears findings against the security service. An
// empty vulnerability list clears prior findings for the metadata's
// identity; a non-empty list sets them. Publication failures are logged
// and never propagated, so a failed publish cannot abort sibling checks.
type Publisher struct {
	client *Client
	logger *telemetry.Logger
}

// NewPublisher creates a Publisher on top of a service client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{
		client: client,
		logger: telemetry.NewLogger("publisher"),
	}
}

// Publish encodes {metadata, result} as a two-part payload and POSTs it.
func (p *Publisher) Publish(ctx context.Context, meta types.FindingMetadata, vulns []types.Vulnerability) {
	status, err := p.client.postFinding(ctx, meta, vulns)
	if err != nil {
		telemetry.PublishFailures.Add(ctx, 1)
		p.logger.WithContext(ctx).Error().
			Err(err).
			Str("check", meta.CheckName).
			Str("resource_id", meta.ResourceID).
			Msg("finding publication failed")
		return
	}
	if status != http.StatusCreated {
		telemetry.PublishFailures.Add(ctx, 1)
		p.logger.LogPublishFailure(ctx, meta.CheckName, meta.ResourceID, status)
		return
	}

	telemetry.FindingsPublished.Add(ctx, 1)
	p.logger.WithContext(ctx).Info().
		Str("check", meta.CheckName).
		Str("resource_id", meta.ResourceID).
		Int("vulnerabilities", len(vulns)).
		Bool("cleared", len(vulns) == 0).
		Msg("finding published")
}

// postFinding builds and sends the multipart request. Publication is not
// retried; idempotence lives at the finding layer, not the transport.
func (c *Client) postFinding(ctx context.Context, meta types.FindingMetadata, vulns []types.Vulnerability) (int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire token: %w", err)
	}

	if vulns == nil {
		vulns = []types.Vulnerability{}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writeJSONPart(writer, "metadata", meta); err != nil {
		return 0, err
	}
	if err := writeJSONPart(writer, "result", vulns); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/findings", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func writeJSONPart(writer *multipart.Writer, name string, v any) error {
	part, err := writer.CreateFormField(name)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", name, err)
	}
	if err := json.NewEncoder(part).Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s part: %w", name, err)
	}
	return nil
}
