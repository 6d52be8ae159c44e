package types

import "time"

// Entity is a directory record. The access-control store reads these but
// never owns them.
type Entity struct {
	ID         EntityID   `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Email      string     `json:"email" yaml:"email"`
	Department string     `json:"department" yaml:"department"`
	Status     string     `json:"status" yaml:"status"`
	LastLogin  *time.Time `json:"lastLogin,omitempty" yaml:"lastLogin,omitempty"`
}

// EntityView pairs a directory entity with its effective access status.
type EntityView struct {
	Entity
	AccessStatus EffectiveStatus `json:"accessStatus"`
}

type Statistics struct {
	TotalEntities       int       `json:"totalEmployees"`
	ActiveCount         int       `json:"activeEmployees"`
	DisabledCount       int       `json:"disabledEmployees"`
	PendingCount        int       `json:"pendingEmployees"`
	GlobalAccessEnabled bool      `json:"globalAccessEnabled"`
	RecentActionCount   int       `json:"recentActions"`
	LastUpdate          time.Time `json:"lastUpdate"`
}

type PingResult struct {
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latencyMs"`
	Version   string `json:"version"`
	Error     string `json:"error,omitempty"`
}
