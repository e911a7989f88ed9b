// Package model содержит доменные сущности сервиса пожертвований.
package model

import "time"

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	IsAdmin      bool
	CreatedAt    time.Time
}

// DonationStatus описывает статус пожертвования в реестре.
type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "pending"
	DonationStatusConfirmed DonationStatus = "confirmed"
	DonationStatusFailed    DonationStatus = "failed"
)

// Valid сообщает, является ли значение допустимым статусом пожертвования.
func (s DonationStatus) Valid() bool {
	switch s {
	case DonationStatusPending, DonationStatusConfirmed, DonationStatusFailed:
		return true
	}
	return false
}

// Donation описывает одно пожертвование в пользу кампании.
// Сумма хранится в пайсах; Reference уникален среди всех пожертвований.
type Donation struct {
	ID          string
	CampaignID  int64
	DonorID     *int64
	DonorName   string
	DonorEmail  string
	Message     string
	Anonymous   bool
	AmountPaise int64
	Status      DonationStatus
	Reference   *string
	CreatedAt   time.Time
}

// CampaignStatus описывает статус модерации кампании.
type CampaignStatus string

const (
	CampaignStatusPending  CampaignStatus = "pending"
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusRejected CampaignStatus = "rejected"
	CampaignStatusClosed   CampaignStatus = "closed"
)

// Valid сообщает, является ли значение допустимым статусом кампании.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusPending, CampaignStatusActive, CampaignStatusRejected, CampaignStatusClosed:
		return true
	}
	return false
}

// Campaign описывает сбор средств с целевой суммой и накопленным итогом.
// RaisedPaise изменяется только реестром и равен сумме подтверждённых пожертвований.
type Campaign struct {
	ID          int64
	OwnerID     int64
	Title       string
	Description string
	Category    string
	GoalPaise   int64
	RaisedPaise int64
	Status      CampaignStatus
	CreatedAt   time.Time
}
