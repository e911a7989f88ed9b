// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	minReferenceLen = 8
	maxReferenceLen = 35
)

// IsValidReference проверяет формат ссылки на UPI-транзакцию (UTR).
// Допускаются латинские буквы и цифры длиной от 8 до 35 символов.
// Проверяется только формат: подлинность платежа здесь не устанавливается.
func IsValidReference(ref string) bool {
	if len(ref) < minReferenceLen || len(ref) > maxReferenceLen {
		return false
	}

	for _, ch := range ref {
		if !unicode.IsDigit(ch) && !unicode.IsLetter(ch) {
			return false
		}
		if ch > unicode.MaxASCII {
			return false
		}
	}

	return true
}

// IsValidVPA проверяет формат виртуального платёжного адреса вида name@bank.
func IsValidVPA(vpa string) bool {
	at := -1
	for i, ch := range vpa {
		if ch == '@' {
			if at != -1 {
				return false
			}
			at = i
			continue
		}
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsDigit(ch) && !unicode.IsLetter(ch) && ch != '.' && ch != '-' && ch != '_' {
			return false
		}
	}

	return at > 0 && at < len(vpa)-1
}
