package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sahayata/donation-system/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется при пустом
// DATABASE_URI и в тестах реестра. Один RWMutex сериализует все мутации:
// учёт по кампании и запись статуса пожертвования меняются неделимо.
type MemoryRepository struct {
	mu sync.RWMutex

	users        map[int64]*model.User
	usersByLogin map[string]int64
	campaigns    map[int64]*model.Campaign
	donations    map[string]*model.Donation
	references   map[string]string

	nextUserID     int64
	nextCampaignID int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[int64]*model.User),
		usersByLogin: make(map[string]int64),
		campaigns:    make(map[int64]*model.Campaign),
		donations:    make(map[string]*model.Donation),
		references:   make(map[string]string),
	}
}

// Close освобождает ресурсы хранилища. Для памяти ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *MemoryRepository) CreateUser(_ context.Context, login string, passwordHash []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.usersByLogin[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}

	r.nextUserID++
	u := &model.User{
		ID:           r.nextUserID,
		Login:        login,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	r.users[u.ID] = u
	r.usersByLogin[login] = u.ID

	return u.ID, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.usersByLogin[login]
	if !ok {
		return nil, ErrUserNotFound
	}

	u := *r.users[id]
	return &u, nil
}

// CreateCampaign сохраняет новую кампанию.
func (r *MemoryRepository) CreateCampaign(_ context.Context, c model.Campaign) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextCampaignID++
	c.ID = r.nextCampaignID
	c.RaisedPaise = 0
	c.CreatedAt = time.Now()

	stored := c
	r.campaigns[c.ID] = &stored

	return &c, nil
}

// GetCampaignByID возвращает кампанию по идентификатору.
func (r *MemoryRepository) GetCampaignByID(_ context.Context, id int64) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}

	res := *c
	return &res, nil
}

// ListCampaigns возвращает кампании, опционально отфильтрованные по статусу.
func (r *MemoryRepository) ListCampaigns(_ context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Campaign
	for _, c := range r.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		res = append(res, *c)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	return res, nil
}

// SetCampaignStatus обновляет статус модерации кампании.
func (r *MemoryRepository) SetCampaignStatus(_ context.Context, id int64, status model.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return ErrCampaignNotFound
	}
	c.Status = status

	return nil
}

// DeleteCampaign удаляет кампанию без пожертвований.
func (r *MemoryRepository) DeleteCampaign(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.campaigns[id]; !ok {
		return ErrCampaignNotFound
	}

	for _, d := range r.donations {
		if d.CampaignID == id {
			return ErrCampaignHasDonations
		}
	}

	delete(r.campaigns, id)
	return nil
}

// CreateDonation сохраняет пожертвование; confirmed сразу увеличивает итог кампании.
func (r *MemoryRepository) CreateDonation(_ context.Context, d model.Donation) (*model.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[d.CampaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	if c.Status != model.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}

	if d.Reference != nil {
		if _, used := r.references[*d.Reference]; used {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, *d.Reference)
		}
	}

	d.CreatedAt = time.Now()

	stored := d
	r.donations[d.ID] = &stored
	if d.Reference != nil {
		r.references[*d.Reference] = d.ID
	}

	if d.Status == model.DonationStatusConfirmed {
		c.RaisedPaise += d.AmountPaise
	}

	if err := r.verifyCampaignTotalLocked(d.CampaignID); err != nil {
		// Откат вставки: запись не должна пережить нарушение инварианта.
		delete(r.donations, d.ID)
		if d.Reference != nil {
			delete(r.references, *d.Reference)
		}
		return nil, err
	}

	return &d, nil
}

// SetDonationStatus переводит пожертвование в новый статус; пересечение границы
// confirmed корректирует итог кампании в той же критической секции.
func (r *MemoryRepository) SetDonationStatus(_ context.Context, id string, status model.DonationStatus, reference *string) (*model.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}

	if reference != nil {
		if owner, used := r.references[*reference]; used && owner != id {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, *reference)
		}
	}

	c := r.campaigns[d.CampaignID]

	wasConfirmed := d.Status == model.DonationStatusConfirmed
	willConfirm := status == model.DonationStatusConfirmed

	switch {
	case willConfirm && !wasConfirmed:
		c.RaisedPaise += d.AmountPaise
	case !willConfirm && wasConfirmed:
		c.RaisedPaise -= d.AmountPaise
	}

	d.Status = status
	if reference != nil {
		if d.Reference != nil {
			delete(r.references, *d.Reference)
		}
		ref := *reference
		d.Reference = &ref
		r.references[ref] = id
	}

	if err := r.verifyCampaignTotalLocked(d.CampaignID); err != nil {
		return nil, err
	}

	res := *d
	return &res, nil
}

func (r *MemoryRepository) verifyCampaignTotalLocked(campaignID int64) error {
	c, ok := r.campaigns[campaignID]
	if !ok {
		return ErrCampaignNotFound
	}

	var confirmed int64
	for _, d := range r.donations {
		if d.CampaignID == campaignID && d.Status == model.DonationStatusConfirmed {
			confirmed += d.AmountPaise
		}
	}

	if c.RaisedPaise != confirmed {
		return fmt.Errorf("%w: campaign %d stored %d confirmed %d",
			ErrInvariantViolation, campaignID, c.RaisedPaise, confirmed)
	}

	return nil
}

// GetDonationByID возвращает пожертвование по идентификатору.
func (r *MemoryRepository) GetDonationByID(_ context.Context, id string) (*model.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}

	res := *d
	return &res, nil
}

// GetCampaignDonations возвращает все пожертвования кампании.
func (r *MemoryRepository) GetCampaignDonations(_ context.Context, campaignID int64) ([]model.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Donation
	for _, d := range r.donations {
		if d.CampaignID == campaignID {
			res = append(res, *d)
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	return res, nil
}

// GetRecentConfirmedDonations возвращает последние подтверждённые пожертвования кампании.
func (r *MemoryRepository) GetRecentConfirmedDonations(_ context.Context, campaignID int64, limit int) ([]model.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Donation
	for _, d := range r.donations {
		if d.CampaignID == campaignID && d.Status == model.DonationStatusConfirmed {
			res = append(res, *d)
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res, nil
}

// GetCampaignTotal возвращает накопленный итог кампании в пайсах.
func (r *MemoryRepository) GetCampaignTotal(_ context.Context, campaignID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[campaignID]
	if !ok {
		return 0, ErrCampaignNotFound
	}

	return c.RaisedPaise, nil
}

// IsReferenceUsed сообщает, привязана ли ссылка на транзакцию к какому-либо пожертвованию.
func (r *MemoryRepository) IsReferenceUsed(_ context.Context, reference string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, used := r.references[reference]
	return used, nil
}

// ListCampaignTotals возвращает хранимые и пересчитанные итоги всех кампаний.
func (r *MemoryRepository) ListCampaignTotals(_ context.Context) ([]CampaignTotal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []CampaignTotal
	for id, c := range r.campaigns {
		ct := CampaignTotal{CampaignID: id, StoredPaise: c.RaisedPaise}
		for _, d := range r.donations {
			if d.CampaignID == id && d.Status == model.DonationStatusConfirmed {
				ct.ConfirmedPaise += d.AmountPaise
			}
		}
		res = append(res, ct)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].CampaignID < res[j].CampaignID })

	return res, nil
}
