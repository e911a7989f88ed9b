// Package upi формирует платёжные ссылки для инициирования перевода через UPI.
package upi

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sahayata/donation-system/internal/validation"
)

// LinkBuilder формирует deep-link вида upi://pay для указанного получателя.
// Ссылка лишь инициирует перевод на стороне плательщика: подтверждение
// платежа сервис получает отдельно в виде ссылки на транзакцию.
type LinkBuilder struct {
	payeeAddress string
	payeeName    string
}

// NewLinkBuilder создаёт построитель платёжных ссылок для указанного VPA.
func NewLinkBuilder(payeeAddress, payeeName string) (*LinkBuilder, error) {
	if !validation.IsValidVPA(payeeAddress) {
		return nil, fmt.Errorf("invalid payee address: %q", payeeAddress)
	}

	return &LinkBuilder{
		payeeAddress: payeeAddress,
		payeeName:    strings.TrimSpace(payeeName),
	}, nil
}

// PaymentLink возвращает upi://pay ссылку на перевод amount рупий с примечанием note.
func (b *LinkBuilder) PaymentLink(amount float64, note string) (string, error) {
	if b == nil {
		return "", fmt.Errorf("link builder not configured")
	}
	if amount <= 0 {
		return "", fmt.Errorf("amount must be positive, got %v", amount)
	}

	q := url.Values{}
	q.Set("pa", b.payeeAddress)
	if b.payeeName != "" {
		q.Set("pn", b.payeeName)
	}
	q.Set("am", fmt.Sprintf("%.2f", amount))
	q.Set("cu", "INR")
	if note = strings.TrimSpace(note); note != "" {
		q.Set("tn", note)
	}

	return "upi://pay?" + q.Encode(), nil
}
