package passwordless

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalisePhoneNumber formats an international number as E.164. Numbers
// that do not parse are returned trimmed, so custom validators can accept
// formats the parser does not know.
func NormalisePhoneNumber(phoneNumber string) string {
	trimmed := strings.TrimSpace(phoneNumber)
	num, err := phonenumbers.Parse(trimmed, "")
	if err != nil {
		return trimmed
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func isValidPhoneNumber(phoneNumber string) bool {
	num, err := phonenumbers.Parse(phoneNumber, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}
