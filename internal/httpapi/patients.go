package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wardflow/wardflow/internal/domain/audit"
	"github.com/wardflow/wardflow/internal/domain/patient"
	"github.com/wardflow/wardflow/internal/platform/auth"
	"github.com/wardflow/wardflow/internal/record"
)

type createPatientRequest struct {
	Name      string `json:"name"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	Contact   string `json:"contact"`
	Complaint string `json:"complaint"`
}

// CreatePatient registers a patient and returns immediately. When a
// complaint is present, complaint classification runs in the background and
// lands on the record as an advisory suggestion; a classification failure
// never blocks or fails registration.
func (s *Server) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	p := patient.New(req.Name, req.Age, req.Gender, req.Contact, req.Complaint, time.Now().UTC())
	if err := p.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.Register(p); err != nil {
		return storeError(err)
	}

	actor := auth.ActorID(c)
	s.sink.Record(audit.Input{
		ActorID:    actor,
		PatientID:  p.ID,
		Action:     "patient.registered",
		EntityKind: "patient",
		Payload:    map[string]any{"name": p.Name, "complaint": p.Complaint},
	})

	if p.Complaint != "" {
		go s.classifyAndApply(p.ID, p.Complaint)
	}

	return c.JSON(http.StatusCreated, p)
}

func (s *Server) classifyAndApply(id uuid.UUID, complaint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cls := s.ai.ClassifyComplaint(ctx, complaint)
	sug := patient.AISuggestion{
		Department:  cls.Department,
		TriageLevel: cls.TriageLevel,
		Confidence:  cls.Confidence,
		FromCache:   cls.FromCache,
		SuggestedAt: time.Now().UTC(),
	}
	if err := s.store.ApplyAISuggestion(id, sug); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", id.String()).Msg("could not apply classification suggestion")
	}
}

func (s *Server) ListPatients(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"patients": s.store.List()})
}

func (s *Server) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p, ok := s.store.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, record.ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, p)
}

type setStatusRequest struct {
	Status patient.Status `json:"status"`
}

func (s *Server) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.store.SetStatus(id, req.Status); err != nil {
		return storeError(err)
	}

	s.sink.Record(audit.Input{
		ActorID:    auth.ActorID(c),
		PatientID:  id,
		Action:     "patient.status_changed",
		EntityKind: "patient",
		Payload:    map[string]any{"status": string(req.Status)},
	})

	p, _ := s.store.Get(id)
	return c.JSON(http.StatusOK, p)
}

type submitVitalsRequest struct {
	Source       patient.VitalsSource `json:"source"`
	Measurements patient.Measurements `json:"measurements"`
}

func (s *Server) SubmitVitals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req submitVitalsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Source == "" {
		req.Source = patient.SourceManual
	}

	actor := auth.ActorID(c)
	rec, err := s.store.SubmitVitals(id, actor, req.Source, req.Measurements)
	if err != nil {
		return storeError(err)
	}

	s.sink.Record(audit.Input{
		ActorID:    actor,
		PatientID:  id,
		Action:     "vitals.recorded",
		EntityKind: "vitals_record",
		EntityID:   &rec.ID,
		Payload:    map[string]any{"source": string(req.Source)},
	})

	p, _ := s.store.Get(id)
	return c.JSON(http.StatusCreated, map[string]any{
		"record": rec,
		"triage": p.Triage,
	})
}

func (s *Server) ListVitals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p, ok := s.store.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, record.ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"vitals": p.VitalsHistory})
}

func (s *Server) GetFile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p, ok := s.store.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, record.ErrNotFound.Error())
	}
	return c.JSON(http.StatusOK, p.File)
}

func (s *Server) PatchSection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	section := patient.SectionName(c.Param("section"))

	var patch patient.SectionPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.store.PatchSection(id, section, patch); err != nil {
		return storeError(err)
	}

	s.sink.Record(audit.Input{
		ActorID:    auth.ActorID(c),
		PatientID:  id,
		Action:     "file.section_updated",
		EntityKind: "clinical_file",
		Payload:    map[string]any{"section": string(section)},
	})

	p, _ := s.store.Get(id)
	return c.JSON(http.StatusOK, p.File)
}

type addOrderRequest struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (s *Server) AddOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req addOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "order kind is required")
	}

	actor := auth.ActorID(c)
	o := patient.Order{
		ID:        uuid.New(),
		Kind:      req.Kind,
		Detail:    req.Detail,
		OrderedBy: actor,
		OrderedAt: time.Now().UTC(),
		Status:    "placed",
	}
	if err := s.store.AddOrder(id, o); err != nil {
		return storeError(err)
	}

	s.sink.Record(audit.Input{
		ActorID:    actor,
		PatientID:  id,
		Action:     "order.placed",
		EntityKind: "order",
		EntityID:   &o.ID,
		Payload:    map[string]any{"kind": o.Kind},
	})
	return c.JSON(http.StatusCreated, o)
}

type addResultRequest struct {
	Summary string `json:"summary"`
}

// AddResult records a finding for an order. The store links the order to
// the result and flips its status to resulted.
func (s *Server) AddResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	orderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	var req addResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Summary == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "result summary is required")
	}

	r := patient.Result{
		ID:         uuid.New(),
		OrderID:    orderID,
		Summary:    req.Summary,
		ReportedAt: time.Now().UTC(),
	}
	if err := s.store.AddResult(id, r); err != nil {
		return storeError(err)
	}

	s.sink.Record(audit.Input{
		ActorID:    auth.ActorID(c),
		PatientID:  id,
		Action:     "result.recorded",
		EntityKind: "result",
		EntityID:   &r.ID,
		Payload:    map[string]any{"order_id": orderID.String()},
	})
	return c.JSON(http.StatusCreated, r)
}

type addRoundRequest struct {
	Note string `json:"note"`
}

func (s *Server) AddRound(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req addRoundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Note == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "round note is required")
	}

	actor := auth.ActorID(c)
	r := patient.Round{
		ID:       uuid.New(),
		DoctorID: actor,
		Note:     req.Note,
		SeenAt:   time.Now().UTC(),
	}
	if err := s.store.AddRound(id, r); err != nil {
		return storeError(err)
	}

	s.sink.Record(audit.Input{
		ActorID:    actor,
		PatientID:  id,
		Action:     "round.recorded",
		EntityKind: "round",
		EntityID:   &r.ID,
	})
	return c.JSON(http.StatusCreated, r)
}

func (s *Server) ListAuditEvents(c echo.Context) error {
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
		}
		return c.JSON(http.StatusOK, map[string]any{"events": s.sink.EventsForPatient(pid)})
	}
	return c.JSON(http.StatusOK, map[string]any{"events": s.sink.Events()})
}
