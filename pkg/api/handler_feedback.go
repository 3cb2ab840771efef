package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentimmune/control-plane/pkg/diagnosis"
)

// submitFeedbackHandler handles POST /api/v1/diagnosis/feedback (§4.5
// "operator-feedback bias").
func (s *Server) submitFeedbackHandler(c *echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "kind is required")
	}

	label := diagnosis.FeedbackKind(req.Label)
	if label != diagnosis.FeedbackFalsePositive && label != diagnosis.FeedbackWrongDiagnosis {
		return echo.NewHTTPError(http.StatusBadRequest, "label must be false_positive or wrong_diagnosis")
	}

	s.orch.SubmitFeedback(c.Request().Context(), diagnosis.Feedback{
		Kind:  diagnosis.Kind(req.Kind),
		Label: label,
		Notes: req.Notes,
	})
	return c.JSON(http.StatusAccepted, &AcceptedResponse{Status: "recorded"})
}
