package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormatVersion tags exported documents.
const ExportFormatVersion = "2.1.0"

// FormatVersion accepts both `"2.1.0"` and bare numbers such as `5`, since
// hand-built payloads use either.
type FormatVersion string

func (v *FormatVersion) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = FormatVersion(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("version must be a string or number: %w", err)
	}
	*v = FormatVersion(n.String())
	return nil
}

// Export is the portable configuration document. Version is the document
// format version, not the settings version.
type Export struct {
	Settings   *Settings     `json:"settings"`
	AuditLog   []AuditEntry  `json:"auditLog,omitempty"`
	ExportedAt time.Time     `json:"exportedAt"`
	Version    FormatVersion `json:"version"`
}
