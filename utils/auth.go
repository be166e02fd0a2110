package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPIN creates a bcrypt hash of the transaction PIN
func HashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPIN compares a PIN against a stored hash. bcrypt's comparison is
// constant time, so timing does not reveal how close a guess was.
func CheckPIN(pin, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
