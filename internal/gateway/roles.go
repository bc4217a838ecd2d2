// services/iotcore/internal/gateway/roles.go
package gateway

import (
	"context"
	"net/http"
)

// MDMSRoleRegistry fetches the valid role codes for a tenant from the
// master data service. It implements core.RoleRegistry.
type MDMSRoleRegistry struct {
	client     *http.Client
	host       string
	moduleName string
}

// NewMDMSRoleRegistry creates a role registry backed by MDMS.
func NewMDMSRoleRegistry(client *http.Client, host, moduleName string) *MDMSRoleRegistry {
	return &MDMSRoleRegistry{client: client, host: host, moduleName: moduleName}
}

type mdmsCriteria struct {
	TenantID   string `json:"tenantId"`
	ModuleName string `json:"moduleName"`
	MasterName string `json:"masterName"`
}

type mdmsRequest struct {
	Criteria mdmsCriteria `json:"MdmsCriteria"`
}

type mdmsRole struct {
	Code   string `json:"code"`
	Active bool   `json:"active"`
}

type mdmsResponse struct {
	Roles []mdmsRole `json:"roles"`
}

// Roles returns the active role codes configured for the tenant.
func (r *MDMSRoleRegistry) Roles(ctx context.Context, tenantID string) ([]string, error) {
	req := mdmsRequest{
		Criteria: mdmsCriteria{
			TenantID:   tenantID,
			ModuleName: r.moduleName,
			MasterName: "roles",
		},
	}

	var resp mdmsResponse
	if err := postJSON(ctx, r.client, joinURL(r.host, "/mdms/v1/_search"), req, &resp); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(resp.Roles))
	for _, role := range resp.Roles {
		if role.Active {
			codes = append(codes, role.Code)
		}
	}
	return codes, nil
}
