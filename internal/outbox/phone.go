package outbox

import (
	"strings"

	"github.com/LeventeLantos/careops/internal/apperr"
)

const whatsappJIDSuffix = "@s.whatsapp.net"

// NormalizePhoneBR returns the Brazilian number as E.164 digits without the
// leading plus (55 + DDD + subscriber).
func NormalizePhoneBR(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch len(digits) {
	case 10, 11:
		digits = "55" + digits
	case 12, 13:
		if !strings.HasPrefix(digits, "55") {
			return "", invalidPhone(raw)
		}
	default:
		return "", invalidPhone(raw)
	}

	national := digits[2:]
	if national[0] == '0' || national[1] == '0' {
		return "", invalidPhone(raw)
	}
	subscriber := national[2:]
	if len(subscriber) == 9 && subscriber[0] != '9' {
		return "", invalidPhone(raw)
	}
	return digits, nil
}

func PhoneJID(phone string) string {
	return phone + whatsappJIDSuffix
}

func invalidPhone(raw string) error {
	return apperr.Validation("invalid_phone", "phone %q is not a valid brazilian number", raw)
}
