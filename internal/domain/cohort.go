package domain

// DefaultCohort names the single cohort produced when splitting is disabled.
const DefaultCohort = "default"

// Cohort is a named, disjoint set of service ids.
type Cohort struct {
	Name       string   `json:"name"`
	ServiceIDs []string `json:"service_ids"`
}

// Contains reports whether the cohort owns the given service id.
func (c *Cohort) Contains(serviceID string) bool {
	for _, id := range c.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}
