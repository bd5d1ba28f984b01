package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/wardflow/wardflow/internal/domain/audit"
	"github.com/wardflow/wardflow/internal/domain/patient"
	"github.com/wardflow/wardflow/internal/platform/ai"
	"github.com/wardflow/wardflow/internal/platform/auth"
	"github.com/wardflow/wardflow/internal/record"
)

type classifyRequest struct {
	Complaint string `json:"complaint"`
}

// ClassifyComplaint classifies free-text complaints. This endpoint never
// fails on backend trouble: an unreachable or misbehaving model yields the
// fallback classification with zero confidence.
func (s *Server) ClassifyComplaint(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Complaint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "complaint is required")
	}
	return c.JSON(http.StatusOK, s.ai.ClassifyComplaint(c.Request().Context(), req.Complaint))
}

func (s *Server) patientByParam(c echo.Context) (patient.Patient, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return patient.Patient{}, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p, ok := s.store.Get(id)
	if !ok {
		return patient.Patient{}, echo.NewHTTPError(http.StatusNotFound, record.ErrNotFound.Error())
	}
	return p, nil
}

func (s *Server) DischargeSummary(c echo.Context) error {
	p, err := s.patientByParam(c)
	if err != nil {
		return err
	}
	summary, err := s.ai.DischargeSummary(c.Request().Context(), p)
	if err != nil {
		return generationError(err)
	}

	s.sink.Record(audit.Input{
		ActorID:    auth.ActorID(c),
		PatientID:  p.ID,
		Action:     "ai.discharge_summary_generated",
		EntityKind: "patient",
	})
	return c.JSON(http.StatusOK, map[string]any{"summary": summary})
}

// ConsistencyCheck runs the cross-section review. An empty findings list
// means the model reported nothing, not that the file is approved, so the
// response always carries requires_review.
func (s *Server) ConsistencyCheck(c echo.Context) error {
	p, err := s.patientByParam(c)
	if err != nil {
		return err
	}
	findings, err := s.ai.CheckConsistency(c.Request().Context(), p.File)
	if err != nil {
		return generationError(err)
	}
	if findings == nil {
		findings = []ai.ConsistencyFinding{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"findings":        findings,
		"requires_review": true,
	})
}

func (s *Server) SuggestOrders(c echo.Context) error {
	p, err := s.patientByParam(c)
	if err != nil {
		return err
	}
	suggestions, err := s.ai.SuggestOrders(c.Request().Context(), p)
	if err != nil {
		return generationError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) DraftSOAP(c echo.Context) error {
	p, err := s.patientByParam(c)
	if err != nil {
		return err
	}
	draft, err := s.ai.DraftSOAP(c.Request().Context(), p)
	if err != nil {
		return generationError(err)
	}
	return c.JSON(http.StatusOK, draft)
}
