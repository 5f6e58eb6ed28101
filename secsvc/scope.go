package secsvc

import (
	"context"
	"fmt"
	"net/url"

	"github.com/stratumsec/warden/types"
)

// GetScope performs a single read against the asset inventory and
// returns the VPC ids in scope for the environment in a region. A
// non-200 response is a hard failure for that environment; the caller
// skips it and proceeds with siblings.
func (c *Client) GetScope(ctx context.Context, environmentID, region string) (types.ScopeSet, error) {
	var payload struct {
		Assets []struct {
			VPCID string `json:"vpc_id"`
		} `json:"assets"`
	}

	path := fmt.Sprintf("/api/v2/environments/%s/assets", url.PathEscape(environmentID))
	query := url.Values{"region": {region}}
	if err := c.getJSON(ctx, path, query, &payload); err != nil {
		return nil, fmt.Errorf("failed to resolve scope for environment %s in %s: %w", environmentID, region, err)
	}

	scope := make(types.ScopeSet, len(payload.Assets))
	for _, asset := range payload.Assets {
		if asset.VPCID != "" {
			scope[asset.VPCID] = true
		}
	}
	return scope, nil
}
