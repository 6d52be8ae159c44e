package types

import "time"

type EntityID = string

// Status is the per-entity override value.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDisabled
}

// EffectiveStatus is what callers see after the global flag is applied.
type EffectiveStatus string

const (
	EffectiveActive           EffectiveStatus = "active"
	EffectiveDisabled         EffectiveStatus = "disabled"
	EffectiveDisabledGlobally EffectiveStatus = "disabled_globally"
	EffectivePending          EffectiveStatus = "pending"
)

type Override struct {
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

// Settings is the persisted access-control blob. JSON keys match the layout
// written by the FAREDEAL web client so its exports import unchanged.
type Settings struct {
	GlobalAccessEnabled bool                  `json:"globalEmployeeAccess"`
	Overrides           map[EntityID]Override `json:"individualControls"`
	BulkOperations      []BulkOperation       `json:"bulkOperations"`
	LastUpdated         time.Time             `json:"lastUpdated"`
	Version             int64                 `json:"version"`
}

// DefaultSettings returns the state a fresh store starts from.
func DefaultSettings(now time.Time) Settings {
	return Settings{
		GlobalAccessEnabled: true,
		Overrides:           map[EntityID]Override{},
		BulkOperations:      []BulkOperation{},
		LastUpdated:         now,
		Version:             1,
	}
}

// Clone returns a deep copy so callers can never alias store state.
func (s Settings) Clone() Settings {
	out := s
	out.Overrides = make(map[EntityID]Override, len(s.Overrides))
	for k, v := range s.Overrides {
		out.Overrides[k] = v
	}
	out.BulkOperations = make([]BulkOperation, len(s.BulkOperations))
	for i, op := range s.BulkOperations {
		op.EntityIDs = append([]EntityID(nil), op.EntityIDs...)
		out.BulkOperations[i] = op
	}
	return out
}

// Normalize fills nil collections left by hand-written or imported payloads.
func (s *Settings) Normalize() {
	if s.Overrides == nil {
		s.Overrides = map[EntityID]Override{}
	}
	if s.BulkOperations == nil {
		s.BulkOperations = []BulkOperation{}
	}
}

// EffectiveStatus applies the global flag, then the override, then the
// default of active.
func (s Settings) EffectiveStatus(id EntityID) EffectiveStatus {
	if !s.GlobalAccessEnabled {
		return EffectiveDisabledGlobally
	}
	if o, ok := s.Overrides[id]; ok {
		return EffectiveStatus(o.Status)
	}
	return EffectiveActive
}

// BulkOperationKind is the operation requested in a bulk update.
type BulkOperationKind string

const (
	BulkEnable  BulkOperationKind = "enable"
	BulkDisable BulkOperationKind = "disable"
)

func (k BulkOperationKind) Valid() bool {
	return k == BulkEnable || k == BulkDisable
}

// Status maps the operation onto the override it writes.
func (k BulkOperationKind) Status() Status {
	if k == BulkEnable {
		return StatusActive
	}
	return StatusDisabled
}

type BulkOperation struct {
	ID          string            `json:"id"`
	Operation   BulkOperationKind `json:"operation"`
	EntityIDs   []EntityID        `json:"employeeIds"`
	Reason      string            `json:"reason,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	PerformedBy string            `json:"performedBy"`
}

type BulkResult struct {
	Success       bool          `json:"success"`
	AffectedCount int           `json:"affectedCount"`
	Operation     BulkOperation `json:"operation"`
}
