// services/iotcore/internal/gateway/idgen.go
package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// IDGenClient fetches formatted sequential ids, e.g. "USER-2026-000042",
// from the platform id generation service. It implements core.IDGenerator.
type IDGenClient struct {
	client *http.Client
	host   string
	format string
}

// NewIDGenClient creates an id generator client.
func NewIDGenClient(client *http.Client, host, format string) *IDGenClient {
	return &IDGenClient{client: client, host: host, format: format}
}

type idRequest struct {
	TenantID string `json:"tenantId"`
	IDName   string `json:"idName"`
	Format   string `json:"format"`
	Count    int    `json:"count"`
}

type idGenRequest struct {
	Requests []idRequest `json:"idRequests"`
}

type idResponse struct {
	ID string `json:"id"`
}

type idGenResponse struct {
	IDResponses []idResponse `json:"idResponses"`
}

// Next returns a single formatted id for the tenant and kind.
func (c *IDGenClient) Next(ctx context.Context, tenantID, kind string) (string, error) {
	req := idGenRequest{
		Requests: []idRequest{{
			TenantID: tenantID,
			IDName:   kind,
			Format:   c.format,
			Count:    1,
		}},
	}

	var resp idGenResponse
	if err := postJSON(ctx, c.client, joinURL(c.host, "/egov-idgen/id/_generate"), req, &resp); err != nil {
		return "", err
	}

	if len(resp.IDResponses) == 0 || resp.IDResponses[0].ID == "" {
		return "", fmt.Errorf("id generation service returned no id")
	}
	return resp.IDResponses[0].ID, nil
}
