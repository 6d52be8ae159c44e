package types

import (
	"encoding/json"
	"time"
)

type AuditAction string

const (
	ActionGlobalToggle     AuditAction = "GLOBAL_ACCESS_TOGGLE"
	ActionIndividualToggle AuditAction = "INDIVIDUAL_ACCESS_TOGGLE"
	ActionBulkOperation    AuditAction = "BULK_OPERATION"
	ActionConfigImport     AuditAction = "CONFIGURATION_IMPORT"
	ActionReset            AuditAction = "CONFIGURATION_RESET"
)

// AuditDetails carries the action-specific payload. Only the fields relevant
// to the entry's action are populated.
type AuditDetails struct {
	// GLOBAL_ACCESS_TOGGLE
	GlobalStatus  string `json:"status,omitempty"`
	AffectedUsers string `json:"affectedUsers,omitempty"`

	// INDIVIDUAL_ACCESS_TOGGLE
	EntityID       EntityID `json:"employeeId,omitempty"`
	NewStatus      Status   `json:"newStatus,omitempty"`
	PreviousStatus Status   `json:"previousStatus,omitempty"`

	// BULK_OPERATION
	Operation        BulkOperationKind `json:"operation,omitempty"`
	AffectedEntities int               `json:"affectedEmployees,omitempty"`
	EntityIDs        []EntityID        `json:"employeeIds,omitempty"`
	Reason           string            `json:"reason,omitempty"`

	// CONFIGURATION_IMPORT
	ImportedAt    *time.Time    `json:"importedAt,omitempty"`
	SourceVersion FormatVersion `json:"sourceVersion,omitempty"`
}

// AuditEntry is immutable once written.
type AuditEntry struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Action      AuditAction  `json:"action"`
	Details     AuditDetails `json:"details"`
	PerformedBy string       `json:"performedBy"`
	IP          string       `json:"ip,omitempty"`
	UserAgent   string       `json:"userAgent,omitempty"`
}

// UnmarshalJSON accepts entries written by the FAREDEAL web client, which
// stores an individual toggle's new status under "status".
func (e *AuditEntry) UnmarshalJSON(b []byte) error {
	type plain AuditEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.Action == ActionIndividualToggle && p.Details.GlobalStatus != "" {
		if p.Details.NewStatus == "" {
			p.Details.NewStatus = Status(p.Details.GlobalStatus)
		}
		p.Details.GlobalStatus = ""
	}
	*e = AuditEntry(p)
	return nil
}

// Actor identifies who performed a mutation.
type Actor struct {
	ID        string
	IP        string
	UserAgent string
}
