package service_test

import (
	"encoding/json"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/faredeal/accessctl/internal/accessctl/service"
	"github.com/faredeal/accessctl/internal/accessctl/types"
)

func (s *StoreSuite) TestExport() {
	for i := 0; i < 120; i++ {
		_, err := s.store.ToggleGlobalAccess(s.ctx, admin)
		s.Require().NoError(err)
	}

	doc, err := s.store.Export(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(doc.Settings)
	s.Equal(int64(121), doc.Settings.Version)
	s.Len(doc.AuditLog, 100)
	s.Equal(types.FormatVersion(types.ExportFormatVersion), doc.Version)
	s.False(doc.ExportedAt.IsZero())
}

func (s *StoreSuite) TestExportImportRoundTrip() {
	_, err := s.store.SetEntityAccess(s.ctx, "emp001", types.StatusDisabled, admin)
	s.Require().NoError(err)
	_, err = s.store.BulkUpdate(s.ctx, types.BulkDisable, []types.EntityID{"emp002", "emp003"}, admin, "audit")
	s.Require().NoError(err)

	before, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	doc, err := s.store.Export(s.ctx)
	s.Require().NoError(err)

	// Through JSON, the way an exported file comes back.
	raw, err := json.Marshal(doc)
	s.Require().NoError(err)
	var payload types.Export
	s.Require().NoError(json.Unmarshal(raw, &payload))

	s.Require().NoError(s.store.Import(s.ctx, payload, admin))

	after, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	ignoreBookkeeping := cmpopts.IgnoreFields(types.Settings{}, "Version", "LastUpdated")
	if diff := cmp.Diff(before, after, ignoreBookkeeping, cmpopts.EquateApproxTime(0)); diff != "" {
		s.Failf("settings changed across export/import", "(-before +after):\n%s", diff)
	}

	log, err := s.store.AuditLog(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(log, 3)
	s.Equal(types.ActionConfigImport, log[0].Action)
	s.Equal(types.FormatVersion("2.1.0"), log[0].Details.SourceVersion)
	s.NotNil(log[0].Details.ImportedAt)
	s.Equal(types.ActionBulkOperation, log[1].Action)
}

func (s *StoreSuite) TestImportReplacesInsteadOfMerging() {
	for i := 0; i < 11; i++ {
		_, err := s.store.SetEntityAccess(s.ctx, "emp004", types.StatusDisabled, admin)
		s.Require().NoError(err)
	}
	current, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(12), current.Version)

	imported := types.DefaultSettings(current.LastUpdated)
	imported.Version = 5
	imported.GlobalAccessEnabled = false
	imported.Overrides["emp007"] = types.Override{Status: types.StatusActive, UpdatedBy: "hr"}
	events := s.events()

	err = s.store.Import(s.ctx, types.Export{Settings: &imported, Version: "5"}, admin)
	s.Require().NoError(err)

	got, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(5), got.Version)
	s.False(got.GlobalAccessEnabled)
	s.NotContains(got.Overrides, "emp004", "not merged")
	s.Contains(got.Overrides, "emp007")

	// No audit log in the payload keeps the existing one.
	s.Equal(12, s.backend.AuditLen())

	s.Require().Len(events(), 1)
	s.Equal(types.EventConfigurationImported, events()[0].Type)
}

func (s *StoreSuite) TestImportReplacesAuditLog() {
	_, err := s.store.ToggleGlobalAccess(s.ctx, admin)
	s.Require().NoError(err)

	settings := types.DefaultSettings(s.clock.Now())
	history := []types.AuditEntry{
		{ID: "audit_b", Timestamp: s.clock.Now(), Action: types.ActionGlobalToggle, PerformedBy: "x"},
		{ID: "audit_a", Timestamp: s.clock.Now(), Action: types.ActionGlobalToggle, PerformedBy: "x"},
	}
	s.Require().NoError(s.store.Import(s.ctx, types.Export{Settings: &settings, AuditLog: history, Version: "2.1.0"}, admin))

	log, err := s.store.AuditLog(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(log, 3)
	s.Equal(types.ActionConfigImport, log[0].Action)
	s.Equal("audit_b", log[1].ID)
	s.Equal("audit_a", log[2].ID)
}

func (s *StoreSuite) TestImportAcceptsNumericVersion() {
	var payload types.Export
	s.Require().NoError(json.Unmarshal([]byte(`{
		"settings": {"globalEmployeeAccess": true, "individualControls": {"emp001": {"status": "disabled"}}},
		"version": 3
	}`), &payload))

	s.Require().NoError(s.store.Import(s.ctx, payload, admin))

	got, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), got.Version, "top-level version fills a missing settings version")
	s.NotNil(got.BulkOperations)
	st, err := s.store.EffectiveStatus(s.ctx, "emp001")
	s.Require().NoError(err)
	s.Equal(types.EffectiveDisabled, st)
}

func (s *StoreSuite) TestImportWebClientExport() {
	var payload types.Export
	s.Require().NoError(json.Unmarshal([]byte(`{
		"settings": {
			"globalEmployeeAccess": true,
			"individualControls": {"emp003": {"status": "disabled", "updatedAt": "2024-10-07T10:00:00.000Z", "updatedBy": "admin"}},
			"bulkOperations": [],
			"lastUpdated": "2024-10-07T10:00:00.000Z",
			"version": 5
		},
		"auditLog": [
			{"id": "audit_1728295200000_k3j9x2m1q", "timestamp": "2024-10-07T10:00:00.000Z", "action": "CONFIGURATION_IMPORT",
			 "details": {"importedAt": "2024-10-07T10:00:00.000Z", "sourceVersion": 4},
			 "performedBy": "admin", "ip": "192.168.1.1", "userAgent": "Mozilla/5.0"},
			{"id": "audit_1728295100000_a8b7c6d5e", "timestamp": "2024-10-07T09:58:20.000Z", "action": "INDIVIDUAL_ACCESS_TOGGLE",
			 "details": {"employeeId": "emp003", "status": "disabled", "previousStatus": "active"},
			 "performedBy": "admin", "ip": "192.168.1.1", "userAgent": "Mozilla/5.0"}
		],
		"exportedAt": "2024-10-07T10:05:00.000Z",
		"version": "2.1.0"
	}`), &payload))

	s.Require().NoError(s.store.Import(s.ctx, payload, admin))

	got, err := s.store.Settings(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(5), got.Version)

	log, err := s.store.AuditLog(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(log, 3)
	s.Equal(types.FormatVersion("4"), log[1].Details.SourceVersion)

	toggle := log[2].Details
	s.Equal(types.StatusDisabled, toggle.NewStatus)
	s.Equal(types.StatusActive, toggle.PreviousStatus)
	s.Empty(toggle.GlobalStatus)
}

func (s *StoreSuite) TestImportValidation() {
	valid := types.DefaultSettings(s.clock.Now())
	badStatus := types.DefaultSettings(s.clock.Now())
	badStatus.Overrides["emp001"] = types.Override{Status: "pending"}

	tests := []struct {
		name    string
		payload types.Export
	}{
		{name: "missing settings", payload: types.Export{Version: "2.1.0"}},
		{name: "missing version", payload: types.Export{Settings: &valid}},
		{name: "invalid override status", payload: types.Export{Settings: &badStatus, Version: "2.1.0"}},
		{name: "audit entry without id", payload: types.Export{Settings: &valid, Version: "2.1.0", AuditLog: []types.AuditEntry{{Action: types.ActionGlobalToggle}}}},
		{name: "duplicate audit ids", payload: types.Export{Settings: &valid, Version: "2.1.0", AuditLog: []types.AuditEntry{
			{ID: "audit_dup", Action: types.ActionGlobalToggle},
			{ID: "audit_dup", Action: types.ActionGlobalToggle},
		}}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.store.Import(s.ctx, tt.payload, admin)
			s.ErrorIs(err, service.ErrInvalidConfiguration)
		})
	}
	s.Zero(s.backend.AuditLen())
}
