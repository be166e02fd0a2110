package utils

import (
	"regexp"
	"strings"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// FormatToE164 normalizes a Nigerian phone number to its +234 canonical form.
// Accepted inputs: "+234XXXXXXXXXX", "234XXXXXXXXXX", "0XXXXXXXXXX" and the
// bare 10-digit national number. Anything else fails with
// invalid_phone_format.
func FormatToE164(raw string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", E(KindInvalidPhone, "Phone number is required", nil)
	}

	hasPlus := strings.HasPrefix(cleaned, "+")
	if hasPlus {
		cleaned = cleaned[1:]
	}
	if !digitsOnly.MatchString(cleaned) {
		return "", E(KindInvalidPhone, "Phone number may only contain digits", nil)
	}

	switch {
	case strings.HasPrefix(cleaned, "234") && len(cleaned) == 13:
		return "+" + cleaned, nil
	case !hasPlus && strings.HasPrefix(cleaned, "0") && len(cleaned) == 11:
		return "+234" + cleaned[1:], nil
	case !hasPlus && len(cleaned) == 10 && (cleaned[0] == '7' || cleaned[0] == '8' || cleaned[0] == '9'):
		return "+234" + cleaned, nil
	}
	return "", E(KindInvalidPhone, "Invalid phone number format", nil)
}

// ToLocalFormat converts a +234 E.164 number back to the 0-prefixed national
// form providers expect for airtime and data top-ups.
func ToLocalFormat(e164 string) string {
	if strings.HasPrefix(e164, "+234") && len(e164) == 14 {
		return "0" + e164[4:]
	}
	return e164
}

// MaskAccountNumber hides the middle digits of an account number for
// confirmation prompts and receipts.
func MaskAccountNumber(account string) string {
	if len(account) < 6 {
		return account
	}
	return account[:3] + strings.Repeat("*", len(account)-5) + account[len(account)-2:]
}
