// Package service реализует бизнес-логику реестра пожертвований.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sahayata/donation-system/internal/model"
	"github.com/sahayata/donation-system/internal/repository"
	"github.com/sahayata/donation-system/internal/upi"
	"github.com/sahayata/donation-system/internal/validation"
)

// ErrInvalidAmount возвращается для пожертвования с неположительной суммой.
var (
	ErrInvalidAmount = errors.New("donation amount must be positive")
	// ErrInvalidStatus возвращается для неизвестного значения статуса.
	ErrInvalidStatus = errors.New("unknown status")
	// ErrInvalidReference возвращается для ссылки на транзакцию в неверном формате.
	ErrInvalidReference = errors.New("malformed transaction reference")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidGoal возвращается для кампании с неположительной целевой суммой.
	ErrInvalidGoal = errors.New("campaign goal must be positive")
	// ErrEmptyTitle возвращается для кампании без названия.
	ErrEmptyTitle = errors.New("campaign title is required")
	// ErrStatusTransition возвращается для недопустимого перехода статуса кампании.
	ErrStatusTransition = errors.New("campaign status transition not allowed")
	// ErrPaymentsNotConfigured возвращается, если платёжные ссылки не настроены.
	ErrPaymentsNotConfigured = errors.New("payment links are not configured")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateCampaign(ctx context.Context, c model.Campaign) (*model.Campaign, error)
	GetCampaignByID(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)
	SetCampaignStatus(ctx context.Context, id int64, status model.CampaignStatus) error
	DeleteCampaign(ctx context.Context, id int64) error
	CreateDonation(ctx context.Context, d model.Donation) (*model.Donation, error)
	GetDonationByID(ctx context.Context, id string) (*model.Donation, error)
	SetDonationStatus(ctx context.Context, id string, status model.DonationStatus, reference *string) (*model.Donation, error)
	GetCampaignDonations(ctx context.Context, campaignID int64) ([]model.Donation, error)
	GetRecentConfirmedDonations(ctx context.Context, campaignID int64, limit int) ([]model.Donation, error)
	GetCampaignTotal(ctx context.Context, campaignID int64) (int64, error)
	IsReferenceUsed(ctx context.Context, reference string) (bool, error)
	ListCampaignTotals(ctx context.Context) ([]repository.CampaignTotal, error)
}

// Service содержит бизнес-логику реестра пожертвований.
type Service struct {
	repo   Repository
	links  *upi.LinkBuilder
	logger *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и построителем платёжных ссылок.
func NewService(repo Repository, links *upi.LinkBuilder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		links:  links,
		logger: logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его учётную запись.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CampaignInput описывает данные для создания кампании. Goal задаётся в рупиях.
type CampaignInput struct {
	OwnerID     int64
	Title       string
	Description string
	Category    string
	Goal        float64
}

// CreateCampaign создаёт кампанию. Новая кампания ожидает модерации.
func (s *Service) CreateCampaign(ctx context.Context, in CampaignInput) (*model.Campaign, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	goalPaise := toPaise(in.Goal)
	if goalPaise <= 0 {
		return nil, ErrInvalidGoal
	}

	return s.repo.CreateCampaign(ctx, model.Campaign{
		OwnerID:     in.OwnerID,
		Title:       title,
		Description: in.Description,
		Category:    in.Category,
		GoalPaise:   goalPaise,
		Status:      model.CampaignStatusPending,
	})
}

// GetCampaign возвращает кампанию по идентификатору.
func (s *Service) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.repo.GetCampaignByID(ctx, id)
}

// ListCampaigns возвращает кампании, опционально отфильтрованные по статусу.
func (s *Service) ListCampaigns(ctx context.Context, status string) ([]model.Campaign, error) {
	st := model.CampaignStatus(status)
	if status != "" && !st.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	return s.repo.ListCampaigns(ctx, st)
}

// допустимые переходы статуса кампании при модерации
var campaignTransitions = map[model.CampaignStatus][]model.CampaignStatus{
	model.CampaignStatusPending:  {model.CampaignStatusActive, model.CampaignStatusRejected},
	model.CampaignStatusActive:   {model.CampaignStatusClosed},
	model.CampaignStatusRejected: {model.CampaignStatusActive},
}

// ModerateCampaign переводит кампанию в новый статус модерации.
func (s *Service) ModerateCampaign(ctx context.Context, id int64, status string) (*model.Campaign, error) {
	st := model.CampaignStatus(status)
	if !st.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	c, err := s.repo.GetCampaignByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, next := range campaignTransitions[c.Status] {
		if next == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStatusTransition, c.Status, st)
	}

	if err := s.repo.SetCampaignStatus(ctx, id, st); err != nil {
		return nil, err
	}

	c.Status = st
	return c, nil
}

// DeleteCampaign удаляет кампанию без пожертвований.
func (s *Service) DeleteCampaign(ctx context.Context, id int64) error {
	return s.repo.DeleteCampaign(ctx, id)
}

// DonationInput описывает данные для записи пожертвования. Amount задаётся в рупиях.
type DonationInput struct {
	CampaignID int64
	DonorID    *int64
	Name       string
	Email      string
	Message    string
	Anonymous  bool
	Amount     float64
	Reference  string
	Status     model.DonationStatus
}

// RecordDonation записывает пожертвование в реестр. Пожертвование со статусом
// confirmed атомарно увеличивает накопленный итог кампании; повторное
// использование ссылки на транзакцию отклоняется без изменения состояния.
func (s *Service) RecordDonation(ctx context.Context, in DonationInput) (*model.Donation, error) {
	amountPaise := toPaise(in.Amount)
	if amountPaise <= 0 {
		return nil, ErrInvalidAmount
	}

	if in.Status != model.DonationStatusPending && in.Status != model.DonationStatusConfirmed {
		return nil, fmt.Errorf("%w: initial status %s", ErrInvalidStatus, in.Status)
	}

	reference, err := normalizeReference(in.Reference)
	if err != nil {
		return nil, err
	}

	return s.repo.CreateDonation(ctx, model.Donation{
		ID:          uuid.NewString(),
		CampaignID:  in.CampaignID,
		DonorID:     in.DonorID,
		DonorName:   strings.TrimSpace(in.Name),
		DonorEmail:  strings.TrimSpace(in.Email),
		Message:     in.Message,
		Anonymous:   in.Anonymous,
		AmountPaise: amountPaise,
		Status:      in.Status,
		Reference:   reference,
	})
}

// SetDonationStatus переводит пожертвование в новый статус, при необходимости
// привязывая ссылку на транзакцию. Учёт кампании корректируется атомарно.
func (s *Service) SetDonationStatus(ctx context.Context, id string, status string, ref string) (*model.Donation, error) {
	st := model.DonationStatus(status)
	if !st.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	reference, err := normalizeReference(ref)
	if err != nil {
		return nil, err
	}

	return s.repo.SetDonationStatus(ctx, id, st, reference)
}

// GetDonation возвращает пожертвование по идентификатору.
func (s *Service) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	return s.repo.GetDonationByID(ctx, id)
}

// VerifyTransactionReference сообщает, свободна ли ссылка на транзакцию.
// Проверяется формат и отсутствие привязки к существующему пожертвованию;
// подлинность платежа не устанавливается.
func (s *Service) VerifyTransactionReference(ctx context.Context, reference string) (bool, error) {
	reference = strings.TrimSpace(reference)
	if !validation.IsValidReference(reference) {
		return false, nil
	}

	used, err := s.repo.IsReferenceUsed(ctx, reference)
	if err != nil {
		return false, err
	}

	return !used, nil
}

// GetCampaignDonations возвращает все пожертвования кампании.
func (s *Service) GetCampaignDonations(ctx context.Context, campaignID int64) ([]model.Donation, error) {
	if _, err := s.repo.GetCampaignByID(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.repo.GetCampaignDonations(ctx, campaignID)
}

// RecentDonations возвращает последние подтверждённые пожертвования кампании.
func (s *Service) RecentDonations(ctx context.Context, campaignID int64, limit int) ([]model.Donation, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if _, err := s.repo.GetCampaignByID(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.repo.GetRecentConfirmedDonations(ctx, campaignID, limit)
}

// GetCampaignTotal возвращает накопленный итог кампании в рупиях.
func (s *Service) GetCampaignTotal(ctx context.Context, campaignID int64) (float64, error) {
	raised, err := s.repo.GetCampaignTotal(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	return fromPaise(raised), nil
}

// PaymentLink возвращает upi://pay ссылку для пожертвования в кампанию.
func (s *Service) PaymentLink(ctx context.Context, campaignID int64, amount float64) (string, error) {
	if s.links == nil {
		return "", ErrPaymentsNotConfigured
	}
	if toPaise(amount) <= 0 {
		return "", ErrInvalidAmount
	}

	c, err := s.repo.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	if c.Status != model.CampaignStatusActive {
		return "", repository.ErrCampaignNotActive
	}

	return s.links.PaymentLink(amount, c.Title)
}

// StartLedgerAudit запускает фоновую сверку итогов кампаний с суммами
// подтверждённых пожертвований. Расхождения попадают в журнал.
func (s *Service) StartLedgerAudit(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.auditLedger(ctx)
			}
		}
	}()
}

func (s *Service) auditLedger(ctx context.Context) {
	totals, err := s.repo.ListCampaignTotals(ctx)
	if err != nil {
		s.logger.Warn("ledger audit failed", zap.Error(err))
		return
	}

	for _, ct := range totals {
		if ct.StoredPaise != ct.ConfirmedPaise {
			s.logger.Error("ledger invariant violated",
				zap.Int64("campaignID", ct.CampaignID),
				zap.Int64("storedPaise", ct.StoredPaise),
				zap.Int64("confirmedPaise", ct.ConfirmedPaise),
			)
		}
	}
}

func toPaise(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func fromPaise(paise int64) float64 {
	return float64(paise) / 100
}

func normalizeReference(ref string) (*string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	if !validation.IsValidReference(ref) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
	return &ref, nil
}
