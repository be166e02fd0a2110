package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	bvnRegex     = regexp.MustCompile(`^\d{11}$`)
	pinRegex     = regexp.MustCompile(`^\d{4}$`)
	amountRegex  = regexp.MustCompile(`^\d[\d,]*(\.\d+)?$`)
	accountRegex = regexp.MustCompile(`^\d{10}$`)
)

// ValidateBVN checks the 11-digit Bank Verification Number format.
func ValidateBVN(bvn string) error {
	if !bvnRegex.MatchString(strings.TrimSpace(bvn)) {
		return ValidationError("BVN must be exactly 11 digits")
	}
	return nil
}

// ValidatePIN checks the 4-digit transaction PIN format.
func ValidatePIN(pin string) error {
	if !pinRegex.MatchString(strings.TrimSpace(pin)) {
		return ValidationError("PIN must be exactly 4 digits")
	}
	return nil
}

// ParseDOB parses a date of birth in dd/mm/yyyy form.
func ParseDOB(raw string) (time.Time, error) {
	dob, err := time.Parse("02/01/2006", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ValidationError("Date of birth must be in dd/mm/yyyy format")
	}
	if dob.After(time.Now()) {
		return time.Time{}, ValidationError("Date of birth cannot be in the future")
	}
	return dob, nil
}

// NormalizeGender maps free-form gender input onto {male, female}.
func NormalizeGender(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male", "man":
		return "male", nil
	case "f", "female", "woman":
		return "female", nil
	}
	return "", ValidationError("Gender must be male or female")
}

// ParseAmount parses a naira amount as typed by a user ("2000", "2,500.50",
// "₦500", "N500").
func ParseAmount(raw string) (float64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "₦")
	cleaned = strings.TrimPrefix(strings.ToUpper(cleaned), "N")
	cleaned = strings.TrimSpace(cleaned)
	if !amountRegex.MatchString(cleaned) {
		return 0, ValidationError("Enter a valid amount, e.g. 2000")
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(cleaned, ",", ""), 64)
	if err != nil || amount <= 0 {
		return 0, ValidationError("Enter a valid amount, e.g. 2000")
	}
	return amount, nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks basic email format.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(strings.TrimSpace(email)) {
		return ValidationError("Invalid email address")
	}
	return nil
}

// ValidateAccountNumber checks the 10-digit NUBAN format.
func ValidateAccountNumber(account string) error {
	if !accountRegex.MatchString(strings.TrimSpace(account)) {
		return ValidationError("Account number must be exactly 10 digits")
	}
	return nil
}
