// Package handler содержит HTTP-обработчики API сервиса пожертвований.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sahayata/donation-system/internal/middleware"
	"github.com/sahayata/donation-system/internal/model"
	"github.com/sahayata/donation-system/internal/repository"
	"github.com/sahayata/donation-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	CreateCampaign(ctx context.Context, in service.CampaignInput) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, status string) ([]model.Campaign, error)
	ModerateCampaign(ctx context.Context, id int64, status string) (*model.Campaign, error)
	DeleteCampaign(ctx context.Context, id int64) error
	RecordDonation(ctx context.Context, in service.DonationInput) (*model.Donation, error)
	GetDonation(ctx context.Context, id string) (*model.Donation, error)
	SetDonationStatus(ctx context.Context, id string, status string, ref string) (*model.Donation, error)
	VerifyTransactionReference(ctx context.Context, reference string) (bool, error)
	GetCampaignDonations(ctx context.Context, campaignID int64) ([]model.Donation, error)
	RecentDonations(ctx context.Context, campaignID int64, limit int) ([]model.Donation, error)
	GetCampaignTotal(ctx context.Context, campaignID int64) (float64, error)
	PaymentLink(ctx context.Context, campaignID int64, amount float64) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса пожертвований.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, false)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.IsAdmin)
	w.WriteHeader(http.StatusOK)
}

type campaignRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Goal        float64 `json:"goal"`
}

type campaignResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Goal        float64 `json:"goal"`
	Raised      float64 `json:"raised"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

func toCampaignResponse(c *model.Campaign) campaignResponse {
	return campaignResponse{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Category:    c.Category,
		Goal:        float64(c.GoalPaise) / 100,
		Raised:      float64(c.RaisedPaise) / 100,
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
}

// CreateCampaign создаёт кампанию от имени текущего пользователя.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateCampaign(r.Context(), service.CampaignInput{
		OwnerID:     userID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Goal:        req.Goal,
	})
	if err != nil {
		h.writeServiceError(w, err, "create campaign")
		return
	}

	h.writeJSON(w, http.StatusCreated, toCampaignResponse(c))
}

// ListCampaigns возвращает кампании, опционально отфильтрованные по статусу.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.service.ListCampaigns(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeServiceError(w, err, "list campaigns")
		return
	}

	if len(campaigns) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		resp = append(resp, toCampaignResponse(&campaigns[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetCampaign возвращает кампанию по идентификатору.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	c, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get campaign")
		return
	}

	h.writeJSON(w, http.StatusOK, toCampaignResponse(c))
}

type donationRequest struct {
	Amount    float64 `json:"amount"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Message   string  `json:"message,omitempty"`
	Anonymous bool    `json:"anonymous"`
	Reference string  `json:"transaction_reference,omitempty"`
}

type donationResponse struct {
	ID         string  `json:"id"`
	CampaignID int64   `json:"campaign_id"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"`
	Name       string  `json:"name"`
	Message    string  `json:"message,omitempty"`
	Reference  string  `json:"transaction_reference,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func toDonationResponse(d *model.Donation) donationResponse {
	name := d.DonorName
	if d.Anonymous {
		name = "Anonymous"
	}

	resp := donationResponse{
		ID:         d.ID,
		CampaignID: d.CampaignID,
		Amount:     float64(d.AmountPaise) / 100,
		Status:     string(d.Status),
		Name:       name,
		Message:    d.Message,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
	if d.Reference != nil {
		resp.Reference = *d.Reference
	}
	return resp
}

// Donate записывает пожертвование в кампанию. Запрос со ссылкой на транзакцию
// фиксируется сразу как confirmed — это поведение исходного донорского потока;
// без ссылки пожертвование остаётся pending до подтверждения администратором.
func (h *Handler) Donate(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	var req donationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.DonationStatusPending
	if req.Reference != "" {
		status = model.DonationStatusConfirmed
	}

	var donorID *int64
	if id, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		donorID = &id
	}

	d, err := h.service.RecordDonation(r.Context(), service.DonationInput{
		CampaignID: campaignID,
		DonorID:    donorID,
		Name:       req.Name,
		Email:      req.Email,
		Message:    req.Message,
		Anonymous:  req.Anonymous,
		Amount:     req.Amount,
		Reference:  req.Reference,
		Status:     status,
	})
	if err != nil {
		h.writeServiceError(w, err, "record donation")
		return
	}

	h.writeJSON(w, http.StatusCreated, toDonationResponse(d))
}

// GetCampaignDonations возвращает пожертвования кампании. С параметром recent
// отдаются только последние подтверждённые записи.
func (h *Handler) GetCampaignDonations(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	var (
		donations []model.Donation
		err       error
	)
	if r.URL.Query().Get("recent") != "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		donations, err = h.service.RecentDonations(r.Context(), campaignID, limit)
	} else {
		donations, err = h.service.GetCampaignDonations(r.Context(), campaignID)
	}
	if err != nil {
		h.writeServiceError(w, err, "get donations")
		return
	}

	if len(donations) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]donationResponse, 0, len(donations))
	for i := range donations {
		resp = append(resp, toDonationResponse(&donations[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetCampaignTotal возвращает накопленный итог кампании.
func (h *Handler) GetCampaignTotal(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	raised, err := h.service.GetCampaignTotal(r.Context(), campaignID)
	if err != nil {
		h.writeServiceError(w, err, "get campaign total")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]float64{"raised": raised})
}

// GetPaymentLink возвращает upi://pay ссылку для пожертвования указанной суммы.
func (h *Handler) GetPaymentLink(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	link, err := h.service.PaymentLink(r.Context(), campaignID, amount)
	if err != nil {
		h.writeServiceError(w, err, "payment link")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"link": link})
}

// VerifyReference сообщает, свободна ли ссылка на транзакцию.
func (h *Handler) VerifyReference(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	available, err := h.service.VerifyTransactionReference(r.Context(), reference)
	if err != nil {
		h.writeServiceError(w, err, "verify reference")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"reference": reference,
		"available": available,
	})
}

type adminDonationRequest struct {
	CampaignID int64   `json:"campaign_id"`
	Amount     float64 `json:"amount"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Message    string  `json:"message,omitempty"`
	Anonymous  bool    `json:"anonymous"`
	Reference  string  `json:"transaction_reference,omitempty"`
	Status     string  `json:"status,omitempty"`
}

// AdminCreateDonation записывает пожертвование от имени администратора.
// По умолчанию запись создаётся pending до явного подтверждения.
func (h *Handler) AdminCreateDonation(w http.ResponseWriter, r *http.Request) {
	var req adminDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.DonationStatusPending
	if req.Status != "" {
		status = model.DonationStatus(req.Status)
	}

	d, err := h.service.RecordDonation(r.Context(), service.DonationInput{
		CampaignID: req.CampaignID,
		Name:       req.Name,
		Email:      req.Email,
		Message:    req.Message,
		Anonymous:  req.Anonymous,
		Amount:     req.Amount,
		Reference:  req.Reference,
		Status:     status,
	})
	if err != nil {
		h.writeServiceError(w, err, "admin create donation")
		return
	}

	h.writeJSON(w, http.StatusCreated, toDonationResponse(d))
}

// AdminGetDonation возвращает пожертвование по идентификатору.
func (h *Handler) AdminGetDonation(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.GetDonation(r.Context(), chi.URLParam(r, "donationID"))
	if err != nil {
		h.writeServiceError(w, err, "get donation")
		return
	}

	h.writeJSON(w, http.StatusOK, toDonationResponse(d))
}

type donationStatusRequest struct {
	Status    string `json:"status"`
	Reference string `json:"transaction_reference,omitempty"`
}

// AdminSetDonationStatus переводит пожертвование в новый статус.
func (h *Handler) AdminSetDonationStatus(w http.ResponseWriter, r *http.Request) {
	donationID := chi.URLParam(r, "donationID")

	var req donationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	d, err := h.service.SetDonationStatus(r.Context(), donationID, req.Status, req.Reference)
	if err != nil {
		h.writeServiceError(w, err, "set donation status")
		return
	}

	h.writeJSON(w, http.StatusOK, toDonationResponse(d))
}

type campaignStatusRequest struct {
	Status string `json:"status"`
}

// AdminModerateCampaign переводит кампанию в новый статус модерации.
func (h *Handler) AdminModerateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	var req campaignStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.ModerateCampaign(r.Context(), id, req.Status)
	if err != nil {
		h.writeServiceError(w, err, "moderate campaign")
		return
	}

	h.writeJSON(w, http.StatusOK, toCampaignResponse(c))
}

// AdminDeleteCampaign удаляет кампанию без пожертвований.
func (h *Handler) AdminDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.campaignID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCampaign(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "delete campaign")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) campaignID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "campaignID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// writeServiceError переводит ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidGoal),
		errors.Is(err, service.ErrEmptyTitle),
		errors.Is(err, service.ErrInvalidReference),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, repository.ErrCampaignNotActive):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrDuplicateTransaction),
		errors.Is(err, repository.ErrCampaignHasDonations),
		errors.Is(err, service.ErrStatusTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrCampaignNotFound),
		errors.Is(err, repository.ErrDonationNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrPaymentsNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
