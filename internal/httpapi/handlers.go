package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/faredeal/accessctl/internal/accessctl/service"
	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// maxRequestBody caps small JSON command bodies.
const maxRequestBody = 64 << 10

// maxImportBody fits a full export with a 1000-entry audit log.
const maxImportBody = 4 << 20

type setEntityRequest struct {
	Status types.Status `json:"status"`
}

type bulkRequest struct {
	Operation types.BulkOperationKind `json:"operation"`
	EntityIDs []types.EntityID        `json:"entityIds"`
	Reason    string                  `json:"reason"`
}

type entityStatusResponse struct {
	EntityID types.EntityID        `json:"employeeId"`
	Status   types.EffectiveStatus `json:"status"`
}

type entityCheckResponse struct {
	EntityID  types.EntityID `json:"employeeId"`
	HasAccess bool           `json:"hasAccess"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := s.svc.Ping(r.Context())
	if !res.Connected {
		writeJSON(w, http.StatusServiceUnavailable, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.Settings(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleToggleGlobal(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.ToggleGlobalAccess(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.EntityViews(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSetEntity(w http.ResponseWriter, r *http.Request) {
	var req setEntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settings, err := s.svc.SetEntityAccess(r.Context(), chi.URLParam(r, "id"), req.Status, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleEntityStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.svc.EffectiveStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entityStatusResponse{EntityID: id, Status: st})
}

func (s *Server) handleEntityCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.svc.HasAccess(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entityCheckResponse{EntityID: id, HasAccess: ok})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.svc.BulkUpdate(r.Context(), req.Operation, req.EntityIDs, actorFrom(r.Context()), req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.svc.AuditLog(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Statistics(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Export(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if wantsProtobuf(r) {
		msg, err := exportToStruct(doc)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}

	name := fmt.Sprintf("access-control-config-%s.json", doc.ExportedAt.Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var payload types.Export
	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg, maxImportBody); err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
			return
		}
		doc, err := exportFromStruct(&msg)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_configuration", err.Error())
			return
		}
		payload = doc
	} else {
		// Unknown fields are tolerated: exports from other clients may carry extras.
		dec := json.NewDecoder(io.LimitReader(r.Body, maxImportBody))
		if err := dec.Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	if err := s.svc.Import(r.Context(), payload, actorFrom(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	settings, err := s.svc.Settings(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	settings, err := s.svc.Reset(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Ping(r.Context()))
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidActor):
		writeError(w, http.StatusUnauthorized, "missing_actor", "an actor identity is required for changes")
	case errors.Is(err, service.ErrInvalidEntityID):
		writeError(w, http.StatusBadRequest, "invalid_entity_id", err.Error())
	case errors.Is(err, service.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, service.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, "invalid_operation", err.Error())
	case errors.Is(err, service.ErrNoEntities):
		writeError(w, http.StatusBadRequest, "no_entities", err.Error())
	case errors.Is(err, service.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, "invalid_configuration", err.Error())
	case errors.Is(err, service.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, "unknown_entity", err.Error())
	case errors.Is(err, service.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict", "settings changed concurrently, retry")
	default:
		s.logger.Error("access-control request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}
