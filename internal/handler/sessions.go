package handler

import (
	"net/http"

	"registerhub/internal/apierror"
	"registerhub/internal/dto"
	"registerhub/internal/model"
	"registerhub/internal/repository"
	"registerhub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SessionsHandler struct{ svc service.SessionService }

func NewSessionsHandler(svc service.SessionService) *SessionsHandler {
	return &SessionsHandler{svc: svc}
}

// Start godoc
// @Summary Claim a register and open a session on it
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.StartSessionRequest true "Register to claim"
// @Success 201 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/sessions [post]
func (h *SessionsHandler) Start(c *gin.Context) {
	var req dto.StartSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	amount := decimal.Zero
	if req.StartingAmount != nil {
		amount = *req.StartingAmount
	}

	resp, err := h.svc.StartSession(c.Request.Context(), caller, uuid.MustParse(req.RegisterID), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Close godoc
// @Summary Close the caller's session and free its register
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.EndSessionRequest true "Counted cash"
// @Success 200 {object} dto.SessionResponse
// @Failure 403 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/sessions/{id}/close [post]
func (h *SessionsHandler) Close(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.EndSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	resp, err := h.svc.EndSession(c.Request.Context(), caller, id, req.EndingAmount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Switch godoc
// @Summary Release the current register and claim another
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.SwitchRegisterRequest true "Target register"
// @Success 200 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/sessions/switch [post]
func (h *SessionsHandler) Switch(c *gin.Context) {
	var req dto.SwitchRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	resp, err := h.svc.SwitchRegister(c.Request.Context(), caller, uuid.MustParse(req.RegisterID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Active godoc
// @Summary The caller's active session
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SessionResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/sessions/active [get]
func (h *SessionsHandler) Active(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	resp, err := h.svc.GetActiveSession(c.Request.Context(), caller)
	if err != nil {
		writeError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, apierror.WithCode("no_active_session", "no active session"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary One session
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} dto.SessionResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/sessions/{id} [get]
func (h *SessionsHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	resp, err := h.svc.GetSession(c.Request.Context(), caller, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// List godoc
// @Summary Session history of the business
// @Tags sessions
// @Produce json
// @Security BearerAuth
// @Param register_id query string false "Register ID"
// @Param user_id query string false "User ID"
// @Param status query string false "active | closed"
// @Param page query int false "Page (default 1)"
// @Param limit query int false "Page size (default 50)"
// @Success 200 {object} dto.SessionListResponse
// @Router /v1/sessions [get]
func (h *SessionsHandler) List(c *gin.Context) {
	var q dto.ListSessionsQuery
	if !bindQuery(c, &q) {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = 50
	}

	var filter repository.SessionFilter
	if q.RegisterID != "" {
		id := uuid.MustParse(q.RegisterID)
		filter.RegisterID = &id
	}
	if q.UserID != "" {
		id := uuid.MustParse(q.UserID)
		filter.UserID = &id
	}
	if q.Status != "" {
		st := model.SessionStatus(q.Status)
		filter.Status = &st
	}

	resp, err := h.svc.ListSessions(c.Request.Context(), caller.BusinessID, filter, q.Page, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RecordSale godoc
// @Summary Add a completed sale to the session totals
// @Tags sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.RecordSaleRequest true "Sale amount"
// @Success 200 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/sessions/{id}/sales [post]
func (h *SessionsHandler) RecordSale(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.RecordSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	resp, err := h.svc.RecordSale(c.Request.Context(), caller, id, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
