// Package handlers provides the HTTP surface for the registration
// system, bridging the transport layer and the business logic and
// translating domain errors into HTTP statuses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gartstein/enroll/internal/registration/codes"
	"github.com/gartstein/enroll/internal/registration/controller"
	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultClosedMessage is shown when the schedule carries no message.
const defaultClosedMessage = "Registration is currently closed."

// RegistrationController defines the submission operations the handlers
// invoke.
type RegistrationController interface {
	SubmitPreRegistration(ctx context.Context, in *controller.PreRegistrationInput) (*controller.PreRegistrationResult, error)
	RegisterCompany(ctx context.Context, in *controller.RegisterInput) (*models.Company, error)
}

// ScheduleController exposes the open/closed gate.
type ScheduleController interface {
	Current(ctx context.Context, now time.Time) (*models.Schedule, error)
	Set(ctx context.Context, patch *models.SchedulePatch) (*models.Schedule, error)
}

// AdminController defines the operator-facing operations.
type AdminController interface {
	ApproveCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	RejectCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	PatchCompany(ctx context.Context, update *models.CompanyUpdate) (*models.Company, error)
	DeleteCompany(ctx context.Context, id uuid.UUID) error
	ListCompanies(ctx context.Context) ([]models.Company, error)
	ListPreRegistrations(ctx context.Context) ([]models.PreRegistration, error)
	DeletePreRegistration(ctx context.Context, id uuid.UUID) error
	CreateGroup(ctx context.Context, group *models.Group) (*models.Group, error)
	UpdateGroup(ctx context.Context, update *models.GroupUpdate) (*models.Group, error)
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	ListGroups(ctx context.Context) ([]models.Group, error)
	AuditGroupCounts(ctx context.Context) ([]controller.GroupDrift, error)
}

// CodeDirectory defines the company-name directory operations.
type CodeDirectory interface {
	LookupByCode(ctx context.Context, code string) (*models.CompanyName, error)
	LookupByName(ctx context.Context, name string) (*models.CompanyName, error)
	CreateEntry(ctx context.Context, name, code string) (*models.CompanyName, error)
	UpdateEntry(ctx context.Context, id uuid.UUID, name, code string) (*models.CompanyName, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	ListEntries(ctx context.Context) ([]models.CompanyName, error)
	Import(ctx context.Context, lines []codes.ImportLine) []codes.ImportResult
}

// Handler maps HTTP requests onto the service layer.
type Handler struct {
	registration RegistrationController
	schedule     ScheduleController
	admin        AdminController
	directory    CodeDirectory
	logger       *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(
	registration RegistrationController,
	scheduleCtrl ScheduleController,
	admin AdminController,
	directory CodeDirectory,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registration: registration,
		schedule:     scheduleCtrl,
		admin:        admin,
		directory:    directory,
		logger:       logger.Named("http_handler"),
	}
}

type preRegistrationRequest struct {
	Name         string     `json:"name" binding:"required"`
	MobileNumber string     `json:"mobileNumber" binding:"required"`
	CompanyName  string     `json:"companyName" binding:"required"`
	Code         string     `json:"code"`
	GroupID      *uuid.UUID `json:"groupId"`
}

// SubmitPreRegistration handles POST /v1/preregistrations.
func (h *Handler) SubmitPreRegistration(c *gin.Context) {
	var req preRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.registration.SubmitPreRegistration(c.Request.Context(), &controller.PreRegistrationInput{
		Name:         req.Name,
		MobileNumber: req.MobileNumber,
		CompanyName:  req.CompanyName,
		Code:         req.Code,
		GroupID:      req.GroupID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Updated {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"preRegistrationId": result.PreRegistrationID,
		"companyId":         result.CompanyID,
		"company":           result.Company,
		"updated":           result.Updated,
	})
}

type registerCompanyRequest struct {
	RegistrantName string     `json:"registrantName" binding:"required"`
	PhoneNumber    string     `json:"phoneNumber" binding:"required"`
	Address        string     `json:"address"`
	Email          string     `json:"email"`
	CompanyName    string     `json:"companyName" binding:"required"`
	Code           string     `json:"code"`
	GroupID        *uuid.UUID `json:"groupId"`
	Paid           bool       `json:"paid"`
}

// RegisterCompany handles POST /v1/companies.
func (h *Handler) RegisterCompany(c *gin.Context) {
	var req registerCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	company, err := h.registration.RegisterCompany(c.Request.Context(), &controller.RegisterInput{
		RegistrantName: req.RegistrantName,
		PhoneNumber:    req.PhoneNumber,
		Address:        req.Address,
		Email:          req.Email,
		CompanyName:    req.CompanyName,
		Code:           req.Code,
		GroupID:        req.GroupID,
		Paid:           req.Paid,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, company)
}

// GetSchedule handles GET /v1/schedule. Reading the schedule may persist
// an auto transition.
func (h *Handler) GetSchedule(c *gin.Context) {
	sched, err := h.schedule.Current(c.Request.Context(), time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	message := sched.Message
	if message == "" && !sched.IsOpen {
		message = defaultClosedMessage
	}
	c.JSON(http.StatusOK, gin.H{
		"isOpen":       sched.IsOpen,
		"message":      message,
		"openTime":     sched.OpenTime,
		"closeTime":    sched.CloseTime,
		"autoSchedule": sched.AutoSchedule,
		"codesActive":  sched.CodesActive,
	})
}

type setScheduleRequest struct {
	IsOpen       bool   `json:"isOpen"`
	Message      string `json:"message"`
	AutoSchedule bool   `json:"autoSchedule"`
	OpenTime     string `json:"openTime"`
	CloseTime    string `json:"closeTime"`
	CodesActive  bool   `json:"codesActive"`
}

// SetSchedule handles PUT /v1/admin/schedule.
func (h *Handler) SetSchedule(c *gin.Context) {
	var req setScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sched, err := h.schedule.Set(c.Request.Context(), &models.SchedulePatch{
		IsOpen:       req.IsOpen,
		Message:      req.Message,
		AutoSchedule: req.AutoSchedule,
		OpenTime:     req.OpenTime,
		CloseTime:    req.CloseTime,
		CodesActive:  req.CodesActive,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// LookupCompanyName handles GET /v1/company-names/lookup, resolving a
// directory entry by code or name for registration auto-fill.
func (h *Handler) LookupCompanyName(c *gin.Context) {
	var (
		entry *models.CompanyName
		err   error
	)
	switch {
	case c.Query("code") != "":
		entry, err = h.directory.LookupByCode(c.Request.Context(), c.Query("code"))
	case c.Query("name") != "":
		entry, err = h.directory.LookupByName(c.Request.Context(), c.Query("name"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "code or name query parameter required"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Company administration

func (h *Handler) ApproveCompany(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	company, err := h.admin.ApproveCompany(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

func (h *Handler) RejectCompany(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	company, err := h.admin.RejectCompany(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

type patchCompanyRequest struct {
	RegistrantName *string               `json:"registrantName"`
	Phone          *string               `json:"phone"`
	Address        *string               `json:"address"`
	Email          *string               `json:"email"`
	Status         *models.CompanyStatus `json:"status"`
	Paid           *bool                 `json:"paid"`
	Spent          *bool                 `json:"spent"`
}

func (h *Handler) PatchCompany(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req patchCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	company, err := h.admin.PatchCompany(c.Request.Context(), &models.CompanyUpdate{
		ID:             id,
		RegistrantName: req.RegistrantName,
		Phone:          req.Phone,
		Address:        req.Address,
		Email:          req.Email,
		Status:         req.Status,
		Paid:           req.Paid,
		Spent:          req.Spent,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

func (h *Handler) DeleteCompany(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteCompany(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListCompanies(c *gin.Context) {
	companies, err := h.admin.ListCompanies(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, companies)
}

// Pre-registration administration

func (h *Handler) ListPreRegistrations(c *gin.Context) {
	pres, err := h.admin.ListPreRegistrations(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pres)
}

func (h *Handler) DeletePreRegistration(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.admin.DeletePreRegistration(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Group administration

type createGroupRequest struct {
	Name         string `json:"name" binding:"required"`
	MaxCompanies int    `json:"maxCompanies"`
	Date         string `json:"date"`
	TimeFrom     string `json:"timeFrom"`
	TimeTo       string `json:"timeTo"`
}

func (h *Handler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := h.admin.CreateGroup(c.Request.Context(), &models.Group{
		Name:         req.Name,
		MaxCompanies: req.MaxCompanies,
		Date:         req.Date,
		TimeFrom:     req.TimeFrom,
		TimeTo:       req.TimeTo,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

type patchGroupRequest struct {
	Name         *string `json:"name"`
	MaxCompanies *int    `json:"maxCompanies"`
	IsClosed     *bool   `json:"isClosed"`
	Date         *string `json:"date"`
	TimeFrom     *string `json:"timeFrom"`
	TimeTo       *string `json:"timeTo"`
}

func (h *Handler) PatchGroup(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req patchGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := h.admin.UpdateGroup(c.Request.Context(), &models.GroupUpdate{
		ID:           id,
		Name:         req.Name,
		MaxCompanies: req.MaxCompanies,
		IsClosed:     req.IsClosed,
		Date:         req.Date,
		TimeFrom:     req.TimeFrom,
		TimeTo:       req.TimeTo,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *Handler) DeleteGroup(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteGroup(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListGroups(c *gin.Context) {
	groups, err := h.admin.ListGroups(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *Handler) AuditGroups(c *gin.Context) {
	drifts, err := h.admin.AuditGroupCounts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drifts": drifts})
}

// Directory administration

type companyNameRequest struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code"`
}

func (h *Handler) CreateCompanyName(c *gin.Context) {
	var req companyNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.directory.CreateEntry(c.Request.Context(), req.Name, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) UpdateCompanyName(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req companyNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.directory.UpdateEntry(c.Request.Context(), id, req.Name, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) DeleteCompanyName(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.directory.DeleteEntry(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListCompanyNames(c *gin.Context) {
	entries, err := h.directory.ListEntries(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type importRequest struct {
	Lines []codes.ImportLine `json:"lines" binding:"required"`
}

// ImportCompanyNames handles a batch directory import; per-line failures
// are reported in the response, never as a batch failure.
func (h *Handler) ImportCompanyNames(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results := h.directory.Import(c.Request.Context(), req.Lines)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps domain errors onto HTTP statuses. Storage errors
// never leak raw; the taxonomy kind travels in the code field.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, e.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
	case errors.Is(err, e.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.Is(err, e.ErrRegistrationClosed):
		c.JSON(http.StatusForbidden, gin.H{"code": "registration_closed", "error": err.Error()})
	case errors.Is(err, e.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"code": "already_registered", "error": err.Error()})
	case errors.Is(err, e.ErrDuplicateCode):
		c.JSON(http.StatusConflict, gin.H{"code": "duplicate_code", "error": err.Error()})
	case errors.Is(err, e.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"code": "duplicate_name", "error": err.Error()})
	case errors.Is(err, e.ErrGroupFull):
		c.JSON(http.StatusConflict, gin.H{"code": "group_full", "error": err.Error()})
	case errors.Is(err, e.ErrGroupClosed):
		c.JSON(http.StatusConflict, gin.H{"code": "group_closed", "error": err.Error()})
	case errors.Is(err, e.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case errors.Is(err, e.ErrCodeExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "code_exhausted", "error": err.Error()})
	default:
		h.logger.Error("internal error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal error"})
	}
}
