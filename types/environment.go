package types

// Environment is one monitored tenant account. Fetched from the
// security service per event, never cached across invocations.
type Environment struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	AccountID string   `json:"account_id"`
	Regions   []string `json:"regions"`
}

// MonitorsRegion reports whether the environment monitors a region.
// An environment with no region list monitors all regions.
func (e Environment) MonitorsRegion(region string) bool {
	if len(e.Regions) == 0 {
		return true
	}
	for _, r := range e.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// ScopeSet is the set of VPC ids in scope for a tenant/region.
type ScopeSet map[string]bool

// Contains reports whether a VPC id is inside the monitored boundary.
func (s ScopeSet) Contains(vpcID string) bool {
	return s[vpcID]
}
