package api

import (
	stderrors "errors"
	"net/http"

	"loan-lifecycle/internal/common/errors"

	"github.com/labstack/echo/v4"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          string       `json:"code"`
	Message       string       `json:"message"`
	Details       string       `json:"details,omitempty"`
	ApplicationID string       `json:"applicationId,omitempty"`
	Stage         string       `json:"stage,omitempty"`
	Fields        []FieldError `json:"fields,omitempty"`
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodePreconditionFailed, errors.ErrCodeTransitionInProgress:
		return http.StatusConflict
	case errors.ErrCodeCollaboratorFailed, errors.ErrCodeExternalService:
		return http.StatusBadGateway
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if stderrors.As(err, &he) {
		return c.JSON(he.Code, errorBody{Error: errorDetail{
			Code:    string(errors.ErrCodeValidationFailed),
			Message: "Malformed request",
			Details: errText(he.Message),
		}})
	}

	stdErr := errors.Normalize(err)
	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", map[string]interface{}{
			"path":      c.Path(),
			"errorCode": string(stdErr.Code),
			"error":     stdErr.Error(),
		})
	}
	return c.JSON(status, errorBody{Error: errorDetail{
		Code:          string(stdErr.Code),
		Message:       stdErr.Message,
		Details:       stdErr.Details,
		ApplicationID: stdErr.ApplicationID(),
		Stage:         stdErr.Stage(),
	}})
}

func (h *Handler) respondInvalid(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{
		Code:    string(errors.ErrCodeValidationFailed),
		Message: "Request validation failed",
		Fields:  ToFieldErrors(err),
	}})
}

func errText(msg interface{}) string {
	switch m := msg.(type) {
	case string:
		return m
	case error:
		return m.Error()
	default:
		return ""
	}
}
