// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/mailshed/campaign-backend/internal/errors"
	"github.com/mailshed/campaign-backend/internal/model"
	"github.com/mailshed/campaign-backend/internal/service"
)

type CampaignController struct {
	Service  *service.CampaignService
	Log      *slog.Logger
	validate *validator.Validate
}

func NewCampaignController(svc *service.CampaignService, logger *slog.Logger) *CampaignController {
	if logger == nil {
		logger = slog.Default()
	}
	return &CampaignController{
		Service:  svc,
		Log:      logger.With("component", "http"),
		validate: validator.New(),
	}
}

type createCampaignRequest struct {
	ToAddress    string      `json:"toAddress" validate:"required,email"`
	Title        string      `json:"title" validate:"required"`
	Content      string      `json:"content" validate:"required"`
	OwnerID      string      `json:"ownerId" validate:"required,uuid"`
	ScheduleTime *string     `json:"scheduleTime" validate:"omitempty"`
	MaxPerHour   *int        `json:"maxPerHour" validate:"omitempty,gt=0"`
	MinInterval  *int        `json:"minInterval" validate:"omitempty,gte=0"`
	Files        []fileInput `json:"files" validate:"omitempty,dive"`
}

type fileInput struct {
	Filename string `json:"filename" validate:"required"`
	Data     string `json:"data" validate:"required"`
	Encoding string `json:"encoding"`
}

// Schedule handles POST /campaigns.
func (c *CampaignController) Schedule(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := c.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	in := service.CreateInput{
		ToAddress:     req.ToAddress,
		Title:         req.Title,
		Content:       req.Content,
		OwnerID:       req.OwnerID,
		MaxPerHour:    req.MaxPerHour,
		MinIntervalMS: req.MinInterval,
	}
	if req.ScheduleTime != nil && *req.ScheduleTime != "" {
		t, err := time.Parse(time.RFC3339, *req.ScheduleTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduleTime must be RFC3339")
			return
		}
		in.ScheduleTime = &t
	}
	for _, f := range req.Files {
		in.Files = append(in.Files, model.Attachment{
			Filename: f.Filename,
			Content:  f.Data,
			Encoding: f.Encoding,
		})
	}

	result, err := c.Service.Create(r.Context(), in)
	if err != nil {
		c.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    result,
		"message": "Campaign successfully scheduled",
	})
}

// ListUserCampaigns handles GET /campaigns/{userId}.
func (c *CampaignController) ListUserCampaigns(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user ID is required")
		return
	}

	campaigns, err := c.Service.ListByOwner(userID)
	if err != nil {
		c.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

// GetDetails handles GET /campaigns/job/{id}.
func (c *CampaignController) GetDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.Service.Details(chi.URLParam(r, "id"))
	if err != nil {
		c.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// GetInbox handles GET /campaigns/inbox/{email}.
func (c *CampaignController) GetInbox(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "email address is required")
		return
	}

	messages, err := c.Service.Inbox(email)
	if err != nil {
		c.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (c *CampaignController) writeServiceError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeError(w, appErr.Status, appErr.Message)
		return
	}
	c.Log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "validation error"
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field()+" failed on "+fe.Tag())
	}
	return "Validation Error: " + strings.Join(msgs, ", ")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
