package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/geofence"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
	"github.com/litoral-labs/micdta/pkg/query"
	"github.com/litoral-labs/micdta/pkg/reset"
	"github.com/litoral-labs/micdta/pkg/validate"
)

const maxBodyBytes = 1 << 20

// ExecuteRequest is the body for the execute and preview endpoints.
type ExecuteRequest struct {
	Operation     string                 `json:"operation"`
	ShipmentID    string                 `json:"shipment_id,omitempty"`
	Titles        []string               `json:"titles,omitempty"`
	AnularTodos   bool                   `json:"anular_todos,omitempty"`
	Justification string                 `json:"justification,omitempty"`
	ForceSend     bool                   `json:"force_send,omitempty"`
	Notes         string                 `json:"notes,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

func (req *ExecuteRequest) options() orchestrator.Options {
	return orchestrator.Options{
		ShipmentID:    req.ShipmentID,
		Titles:        req.Titles,
		AnularTodos:   req.AnularTodos,
		Justification: req.Justification,
		ForceSend:     req.ForceSend,
		Notes:         req.Notes,
		Payload:       req.Payload,
	}
}

// ResetRequest is the body for the full reset endpoint.
type ResetRequest struct {
	Justification string `json:"justification"`
}

// PositionRequest is the body for position ingestion.
type PositionRequest struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Source     string    `json:"source,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// ExportResponse reports where the evidence bundle was stored.
type ExportResponse struct {
	VoyageID string `json:"voyage_id"`
	Location string `json:"location"`
	Checksum string `json:"checksum"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	voyageID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "invalid request body")
		return
	}
	if req.Operation == "" {
		WriteBadRequest(w, r, "missing required field: operation")
		return
	}

	outcome, err := s.exec.Execute(r.Context(), voyageID, contracts.Operation(req.Operation), req.options())
	if outcome != nil {
		writeJSON(w, statusForOutcome(outcome), outcome)
		return
	}
	s.writeExecuteError(w, r, err)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	voyageID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "invalid request body")
		return
	}
	if req.Operation == "" {
		WriteBadRequest(w, r, "missing required field: operation")
		return
	}

	payload, err := s.facade.PreviewPayload(voyageID, contracts.Operation(req.Operation), req.options())
	if err != nil {
		s.writeExecuteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	voyageID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "invalid request body")
		return
	}

	outcome, err := s.resets.FullReset(r.Context(), voyageID, req.Justification)
	if errors.Is(err, reset.ErrJustificationTooShort) {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if outcome != nil {
		writeJSON(w, statusForOutcome(outcome), outcome)
		return
	}
	s.writeExecuteError(w, r, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.facade.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	voyageID := r.PathValue("id")

	if op := r.URL.Query().Get("operation"); op != "" {
		req := validate.Request{
			ShipmentID:  r.URL.Query().Get("shipment_id"),
			AnularTodos: r.URL.Query().Get("anular_todos") == "true",
		}
		decision, err := s.facade.CheckOperation(r.Context(), voyageID, contracts.Operation(op), req)
		if err != nil {
			s.writeQueryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, decision)
		return
	}

	report, err := s.facade.Validate(r.Context(), voyageID)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.Filter{
		Operation:      contracts.Operation(q.Get("operation")),
		Status:         contracts.RecordStatus(q.Get("status")),
		AfterWatermark: q.Get("after_watermark") == "true",
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			WriteBadRequest(w, r, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	records, err := s.facade.Activity(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.facade.Tracks(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleIngestPosition(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		WriteNotFound(w, r, "position tracking is not enabled")
		return
	}
	voyageID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "invalid request body")
		return
	}

	outcome, err := s.engine.Ingest(r.Context(), contracts.PositionSample{
		VoyageID:   voyageID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Source:     req.Source,
		CapturedAt: req.CapturedAt,
	})
	if errors.Is(err, geofence.ErrInvalidCoordinates) {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, outcome)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(w, r)
	if !ok {
		return
	}
	samples, err := s.facade.Positions(r.Context(), r.PathValue("id"), since)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handlePositionStats(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(w, r)
	if !ok {
		return
	}
	stats, err := s.facade.PositionStats(r.Context(), r.PathValue("id"), since)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleControlPoints(w http.ResponseWriter, r *http.Request) {
	points := s.facade.ControlPoints()
	if points == nil {
		points = []contracts.ControlPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		WriteNotFound(w, r, "evidence export is not enabled")
		return
	}
	voyageID := r.PathValue("id")

	location, checksum, err := s.exporter.Export(r.Context(), voyageID)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "evidence bundle exported",
		"voyage", voyageID, "location", location)
	writeJSON(w, http.StatusOK, &ExportResponse{
		VoyageID: voyageID,
		Location: location,
		Checksum: checksum,
	})
}

// statusForOutcome maps execution outcomes to HTTP status codes. A
// remote failure is a bad gateway, not a client fault.
func statusForOutcome(outcome *contracts.Outcome) int {
	switch outcome.Status {
	case contracts.OutcomeBlocked, contracts.OutcomeRefused:
		return http.StatusConflict
	case contracts.OutcomeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

func (s *Server) writeExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contracts.ErrVoyageNotFound):
		WriteNotFound(w, r, err.Error())
	case errors.Is(err, contracts.ErrUnknownOperation):
		WriteBadRequest(w, r, err.Error())
	case errors.Is(err, orchestrator.ErrOperationInFlight):
		WriteConflict(w, r, err.Error())
	default:
		WriteInternal(w, r, err)
	}
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contracts.ErrVoyageNotFound):
		WriteNotFound(w, r, err.Error())
	case errors.Is(err, query.ErrTrackingDisabled):
		WriteNotFound(w, r, "position tracking is not enabled")
	default:
		WriteInternal(w, r, err)
	}
}

func parseSince(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		WriteBadRequest(w, r, "since must be RFC 3339")
		return time.Time{}, false
	}
	return since, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
