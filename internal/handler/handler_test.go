package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sahayata/donation-system/internal/middleware"
	"github.com/sahayata/donation-system/internal/model"
	"github.com/sahayata/donation-system/internal/repository"
	"github.com/sahayata/donation-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	campaign    *model.Campaign
	campaignErr error

	campaignsResp []model.Campaign
	campaignsErr  error

	recordedInput service.DonationInput
	recordResp    *model.Donation
	recordErr     error

	statusResp *model.Donation
	statusErr  error

	available    bool
	availableErr error

	donationsResp []model.Donation
	donationsErr  error

	total    float64
	totalErr error

	link    string
	linkErr error

	deleteErr error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) CreateCampaign(ctx context.Context, in service.CampaignInput) (*model.Campaign, error) {
	return s.campaign, s.campaignErr
}

func (s *stubService) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.campaign, s.campaignErr
}

func (s *stubService) ListCampaigns(ctx context.Context, status string) ([]model.Campaign, error) {
	return s.campaignsResp, s.campaignsErr
}

func (s *stubService) ModerateCampaign(ctx context.Context, id int64, status string) (*model.Campaign, error) {
	return s.campaign, s.campaignErr
}

func (s *stubService) DeleteCampaign(ctx context.Context, id int64) error {
	return s.deleteErr
}

func (s *stubService) RecordDonation(ctx context.Context, in service.DonationInput) (*model.Donation, error) {
	s.recordedInput = in
	return s.recordResp, s.recordErr
}

func (s *stubService) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	return s.statusResp, s.statusErr
}

func (s *stubService) SetDonationStatus(ctx context.Context, id string, status string, ref string) (*model.Donation, error) {
	return s.statusResp, s.statusErr
}

func (s *stubService) VerifyTransactionReference(ctx context.Context, reference string) (bool, error) {
	return s.available, s.availableErr
}

func (s *stubService) GetCampaignDonations(ctx context.Context, campaignID int64) ([]model.Donation, error) {
	return s.donationsResp, s.donationsErr
}

func (s *stubService) RecentDonations(ctx context.Context, campaignID int64, limit int) ([]model.Donation, error) {
	return s.donationsResp, s.donationsErr
}

func (s *stubService) GetCampaignTotal(ctx context.Context, campaignID int64) (float64, error) {
	return s.total, s.totalErr
}

func (s *stubService) PaymentLink(ctx context.Context, campaignID int64, amount float64) (string, error) {
	return s.link, s.linkErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("register must set auth cookie")
	}
}

func TestLogin_UnauthorizedOnBadCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestDonate_GuestWithReferenceConfirms(t *testing.T) {
	svc := &stubService{
		recordResp: &model.Donation{
			ID:          "d1",
			CampaignID:  7,
			AmountPaise: 50000,
			Status:      model.DonationStatusConfirmed,
			DonorName:   "Asha",
			CreatedAt:   time.Now(),
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(donationRequest{
		Amount:    500,
		Name:      "Asha",
		Email:     "asha@example.com",
		Reference: "UPI0000001",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/7/donations", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if svc.recordedInput.Status != model.DonationStatusConfirmed {
		t.Fatalf("status passed to service = %s, want confirmed", svc.recordedInput.Status)
	}
	if svc.recordedInput.DonorID != nil {
		t.Fatalf("guest donation must not carry donor id")
	}
}

func TestDonate_WithoutReferenceStaysPending(t *testing.T) {
	svc := &stubService{
		recordResp: &model.Donation{
			ID:         "d1",
			CampaignID: 7,
			Status:     model.DonationStatusPending,
			CreatedAt:  time.Now(),
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(donationRequest{Amount: 500, Name: "Asha"})

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/7/donations", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusCreated)
	}
	if svc.recordedInput.Status != model.DonationStatusPending {
		t.Fatalf("status passed to service = %s, want pending", svc.recordedInput.Status)
	}
}

func TestDonate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid amount", service.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{"duplicate reference", repository.ErrDuplicateTransaction, http.StatusConflict},
		{"unknown campaign", repository.ErrCampaignNotFound, http.StatusNotFound},
		{"inactive campaign", repository.ErrCampaignNotActive, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{recordErr: tt.err}
			h := newTestHandler(t, svc)
			router := h.SetupRouter()

			body, _ := json.Marshal(donationRequest{Amount: 500, Name: "Asha"})

			req := httptest.NewRequest(http.MethodPost, "/api/campaigns/7/donations", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Result().StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestListCampaigns_NoContent(t *testing.T) {
	svc := &stubService{
		campaignsResp: []model.Campaign{},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestGetCampaignDonations_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	ref := "UPI0000001"
	svc := &stubService{
		donationsResp: []model.Donation{
			{
				ID:          "d1",
				CampaignID:  7,
				AmountPaise: 50000,
				Status:      model.DonationStatusConfirmed,
				DonorName:   "Asha",
				Reference:   &ref,
				CreatedAt:   now,
			},
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/7/donations", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp []donationResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Amount != 500 || resp[0].Reference != ref {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetCampaignDonations_AnonymousNameHidden(t *testing.T) {
	svc := &stubService{
		donationsResp: []model.Donation{
			{
				ID:          "d1",
				CampaignID:  7,
				AmountPaise: 10000,
				Status:      model.DonationStatusConfirmed,
				DonorName:   "Asha",
				Anonymous:   true,
				CreatedAt:   time.Now(),
			},
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/7/donations", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	var resp []donationResponse
	if err := json.NewDecoder(rec.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp[0].Name != "Anonymous" {
		t.Fatalf("name = %q, want Anonymous", resp[0].Name)
	}
}

func TestVerifyReference_JSONResponse(t *testing.T) {
	svc := &stubService{available: true}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/references/UPI0000001/available", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["available"] != true {
		t.Fatalf("available = %v, want true", resp["available"])
	}
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(donationStatusRequest{Status: "confirmed"})

	// Без cookie — 401.
	req := httptest.NewRequest(http.MethodPatch, "/api/admin/donations/d1/status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}

	// Обычный пользователь — 403.
	w := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(w, 1, false)
	cookie := w.Result().Cookies()[0]

	req = httptest.NewRequest(http.MethodPatch, "/api/admin/donations/d1/status", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestAdminSetDonationStatus_Success(t *testing.T) {
	svc := &stubService{
		statusResp: &model.Donation{
			ID:          "d1",
			CampaignID:  7,
			AmountPaise: 30000,
			Status:      model.DonationStatusConfirmed,
			CreatedAt:   time.Now(),
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(w, 1, true)
	cookie := w.Result().Cookies()[0]

	body, _ := json.Marshal(donationStatusRequest{Status: "confirmed", Reference: "UPI0000002"})

	req := httptest.NewRequest(http.MethodPatch, "/api/admin/donations/d1/status", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
}

func TestAdminDeleteCampaign_ConflictWithDonations(t *testing.T) {
	svc := &stubService{deleteErr: repository.ErrCampaignHasDonations}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(w, 1, true)
	cookie := w.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/campaigns/7", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestGetCampaignTotal(t *testing.T) {
	svc := &stubService{total: 800}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/7/total", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	var resp map[string]float64
	if err := json.NewDecoder(rec.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["raised"] != 800 {
		t.Fatalf("raised = %v, want 800", resp["raised"])
	}
}

func TestGetPaymentLink(t *testing.T) {
	svc := &stubService{link: "upi://pay?pa=relief%40okaxis&am=500.00"}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/7/paylink?amount=500", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["link"] == "" {
		t.Fatalf("empty payment link in response")
	}
}
