// Package api serves the loan application HTTP API.
package api

import (
	"context"
	"net/http"

	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/search"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/stages"

	"github.com/labstack/echo/v4"
)

// LoanService is the lifecycle surface the API drives.
type LoanService interface {
	Submit(ctx context.Context, req stages.SubmitRequest) (*models.LoanApplication, error)
	Get(ctx context.Context, id string) (*models.LoanApplication, error)
	List(ctx context.Context) ([]*models.LoanApplication, error)
	ListByStatus(ctx context.Context, status string) ([]*models.LoanApplication, error)
	FindByProcessInstance(ctx context.Context, processRef string) (*models.LoanApplication, error)

	Review(ctx context.Context, id string) (*stages.Result, error)
	CreditCheck(ctx context.Context, id string, supplied *int) (*stages.Result, error)
	RiskAssess(ctx context.Context, id string) (*stages.Result, error)
	Approve(ctx context.Context, id string) (*stages.Result, error)
	PrepareAgreement(ctx context.Context, id string) (*stages.Result, error)
	SignAgreement(ctx context.Context, id string) (*stages.Result, error)
	Disburse(ctx context.Context, id string) (*stages.Result, error)
	Reject(ctx context.Context, id, reason string) (*stages.Result, error)

	Tasks(ctx context.Context, id string) ([]models.Task, error)
	ClaimTask(ctx context.Context, taskID, assignee string) (models.Task, error)
	TasksForAssignee(ctx context.Context, assignee string) ([]models.Task, error)
	History(ctx context.Context, id string) ([]search.Transition, error)
}

var _ LoanService = (*stages.Service)(nil)

type Handler struct {
	svc    LoanService
	logger logger.Logger
}

func NewHandler(svc LoanService, log logger.Logger) *Handler {
	return &Handler{svc: svc, logger: log.WithFields(map[string]interface{}{"component": "api"})}
}

// Register mounts the routes under g.
func (h *Handler) Register(g *echo.Group) {
	apps := g.Group("/loan-applications")
	apps.POST("", h.Submit)
	apps.GET("", h.List)
	apps.GET("/status/:status", h.ListByStatus)
	apps.GET("/process/:processInstanceId", h.GetByProcessInstance)
	apps.GET("/:id", h.Get)
	apps.GET("/:id/tasks", h.Tasks)
	apps.GET("/:id/history", h.History)

	apps.PUT("/:id/review", h.Review)
	apps.PUT("/:id/credit-check", h.CreditCheck)
	apps.PUT("/:id/risk-assessment", h.RiskAssess)
	apps.PUT("/:id/approve-loan", h.Approve)
	apps.PUT("/:id/prepare-agreement", h.PrepareAgreement)
	apps.PUT("/:id/sign-agreement", h.SignAgreement)
	apps.PUT("/:id/disburse", h.Disburse)
	apps.PUT("/:id/reject", h.Reject)

	tasks := g.Group("/tasks")
	tasks.GET("", h.TasksForAssignee)
	tasks.POST("/:taskId/claim", h.ClaimTask)
}

// ==========================
// Applications
// ==========================

func (h *Handler) Submit(c echo.Context) error {
	var req stages.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	app, err := h.svc.Submit(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, app)
}

func (h *Handler) List(c echo.Context) error {
	apps, err := h.svc.List(c.Request().Context())
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, apps)
}

func (h *Handler) ListByStatus(c echo.Context) error {
	apps, err := h.svc.ListByStatus(c.Request().Context(), c.Param("status"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, apps)
}

func (h *Handler) Get(c echo.Context) error {
	app, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, app)
}

func (h *Handler) GetByProcessInstance(c echo.Context) error {
	app, err := h.svc.FindByProcessInstance(c.Request().Context(), c.Param("processInstanceId"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, app)
}

func (h *Handler) Tasks(c echo.Context) error {
	tasks, err := h.svc.Tasks(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, tasks)
}

func (h *Handler) History(c echo.Context) error {
	history, err := h.svc.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	if history == nil {
		history = []search.Transition{}
	}
	return c.JSON(http.StatusOK, history)
}

// ==========================
// Stage transitions
// ==========================

type creditCheckRequest struct {
	CreditScore *int `json:"creditScore" validate:"omitempty,min=300,max=850"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handler) Review(c echo.Context) error {
	res, err := h.svc.Review(c.Request().Context(), c.Param("id"))
	return h.respondStage(c, res, err, "")
}

func (h *Handler) CreditCheck(c echo.Context) error {
	var req creditCheckRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return h.respondInvalid(c, err)
	}
	res, err := h.svc.CreditCheck(c.Request().Context(), c.Param("id"), req.CreditScore)
	return h.respondStage(c, res, err, "")
}

func (h *Handler) RiskAssess(c echo.Context) error {
	res, err := h.svc.RiskAssess(c.Request().Context(), c.Param("id"))
	return h.respondStage(c, res, err, "")
}

func (h *Handler) Approve(c echo.Context) error {
	res, err := h.svc.Approve(c.Request().Context(), c.Param("id"))
	return h.respondStage(c, res, err, "Loan approved successfully")
}

func (h *Handler) PrepareAgreement(c echo.Context) error {
	res, err := h.svc.PrepareAgreement(c.Request().Context(), c.Param("id"))
	return h.respondStage(c, res, err, "Loan agreement prepared")
}

func (h *Handler) SignAgreement(c echo.Context) error {
	res, err := h.svc.SignAgreement(c.Request().Context(), c.Param("id"))
	return h.respondStage(c, res, err, "Loan agreement signed successfully")
}

func (h *Handler) Disburse(c echo.Context) error {
	res, err := h.svc.Disburse(c.Request().Context(), c.Param("id"))
	return h.respondStage(c, res, err, "Loan funds disbursed")
}

func (h *Handler) Reject(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return h.respondInvalid(c, err)
	}
	res, err := h.svc.Reject(c.Request().Context(), c.Param("id"), req.Reason)
	return h.respondStage(c, res, err, "Loan application rejected")
}

// respondStage renders {applicationId, status, ...variables, message}.
func (h *Handler) respondStage(c echo.Context, res *stages.Result, err error, message string) error {
	if err != nil {
		return h.respondError(c, err)
	}
	body := make(map[string]interface{}, len(res.Variables)+4)
	for k, v := range res.Variables {
		body[k] = v
	}
	body["applicationId"] = res.ApplicationID
	body["status"] = res.Status
	body["taskId"] = res.TaskID
	if res.Reentry {
		body["reentry"] = true
	}
	if message != "" {
		body["message"] = message
	}
	return c.JSON(http.StatusOK, body)
}

// ==========================
// Task board
// ==========================

type claimRequest struct {
	Assignee string `json:"assignee" validate:"required,max=255"`
}

func (h *Handler) ClaimTask(c echo.Context) error {
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return h.respondInvalid(c, err)
	}
	task, err := h.svc.ClaimTask(c.Request().Context(), c.Param("taskId"), req.Assignee)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// TasksForAssignee lists claimed tasks; without ?assignee it lists unclaimed ones.
func (h *Handler) TasksForAssignee(c echo.Context) error {
	tasks, err := h.svc.TasksForAssignee(c.Request().Context(), c.QueryParam("assignee"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, tasks)
}
