package handler

import (
	"net/http"

	"registerhub/internal/apierror"
	"registerhub/internal/dto"
	"registerhub/internal/model"
	"registerhub/internal/repository"
	"registerhub/internal/service"

	"github.com/gin-gonic/gin"
)

type RegistersHandler struct {
	registers service.RegisterService
	sessions  service.SessionService
}

func NewRegistersHandler(registers service.RegisterService, sessions service.SessionService) *RegistersHandler {
	return &RegistersHandler{registers: registers, sessions: sessions}
}

// List godoc
// @Summary List the registers of the caller's business with derived status
// @Tags registers
// @Produce json
// @Security BearerAuth
// @Param admin_status query string false "active | inactive | maintenance"
// @Success 200 {array} dto.RegisterResponse
// @Router /v1/registers [get]
func (h *RegistersHandler) List(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	var filter repository.RegisterFilter
	if raw := c.Query("admin_status"); raw != "" {
		st := model.AdminStatus(raw)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, apierror.WithCode("invalid_query", "unknown admin_status"))
			return
		}
		filter.AdminStatus = &st
	}

	resp, err := h.registers.ListRegisters(c.Request.Context(), caller.BusinessID, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary Get one register
// @Tags registers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Success 200 {object} dto.RegisterResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/registers/{id} [get]
func (h *RegistersHandler) Get(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	reg, err := h.registers.GetRegister(c.Request.Context(), caller.BusinessID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRegisterResponse(reg))
}

// Status godoc
// @Summary Derived status of a register
// @Tags registers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Success 200 {object} dto.RegisterStatusResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/registers/{id}/status [get]
func (h *RegistersHandler) Status(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	st, err := h.sessions.GetRegisterStatus(c.Request.Context(), caller.BusinessID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RegisterStatusResponse{RegisterID: id.String(), Status: st})
}

// Create godoc
// @Summary Create a register
// @Tags registers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CreateRegisterRequest true "Register"
// @Success 201 {object} dto.RegisterResponse
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/registers [post]
func (h *RegistersHandler) Create(c *gin.Context) {
	var req dto.CreateRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	resp, err := h.registers.CreateRegister(c.Request.Context(), caller, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Update godoc
// @Summary Change name, location or admin status of a register
// @Tags registers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Param body body dto.UpdateRegisterRequest true "Fields to change"
// @Success 200 {object} dto.RegisterResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/registers/{id} [patch]
func (h *RegistersHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	resp, err := h.registers.UpdateRegister(c.Request.Context(), caller, id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Delete godoc
// @Summary Delete a register without an active session
// @Tags registers
// @Security BearerAuth
// @Param id path string true "Register ID"
// @Success 204
// @Failure 409 {object} apierror.APIError
// @Router /v1/registers/{id} [delete]
func (h *RegistersHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	if err := h.registers.DeleteRegister(c.Request.Context(), caller, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
