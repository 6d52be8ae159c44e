package types

import "time"

type EventType string

const (
	EventGlobalAccessChanged     EventType = "GLOBAL_ACCESS_CHANGED"
	EventIndividualAccessChanged EventType = "INDIVIDUAL_ACCESS_CHANGED"
	EventBulkOperationCompleted  EventType = "BULK_OPERATION_COMPLETED"
	EventConfigurationImported   EventType = "CONFIGURATION_IMPORTED"
	EventConfigurationReset      EventType = "CONFIGURATION_RESET"
	EventDirectoryReloaded       EventType = "DIRECTORY_RELOADED"
)

// Event is published to subscribers after every change.
type Event struct {
	Type          EventType         `json:"type"`
	Timestamp     time.Time         `json:"timestamp"`
	Enabled       *bool             `json:"enabled,omitempty"`
	EntityID      EntityID          `json:"employeeId,omitempty"`
	Status        Status            `json:"status,omitempty"`
	Operation     BulkOperationKind `json:"operation,omitempty"`
	AffectedCount int               `json:"affectedCount,omitempty"`
	Settings      *Settings         `json:"settings,omitempty"`
}
