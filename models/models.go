package models

import (
	"time"

	"gorm.io/gorm"
)

// KYC status constants
const (
	KYCStatusNone       = "none"
	KYCStatusPending    = "pending"
	KYCStatusVerified   = "verified"
	KYCStatusRejected   = "rejected"
	KYCStatusIncomplete = "incomplete"
)

// Onboarding step constants. Steps only move forward; "completed" is terminal.
const (
	OnboardingStepInitial         = "initial"
	OnboardingStepGreeting        = "greeting"
	OnboardingStepPersonalDetails = "personal_details"
	OnboardingStepBVN             = "bvn"
	OnboardingStepVirtualAccount  = "virtual_account"
	OnboardingStepPINSetup        = "pin_setup"
	OnboardingStepCompleted       = "completed"
)

// User represents a WhatsApp wallet user. The WhatsApp number is the identity
// key and never changes once the row is created.
type User struct {
	gorm.Model
	WhatsAppNumber string     `gorm:"uniqueIndex;not null" json:"whatsapp_number"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Email          string     `json:"email"`
	Gender         string     `json:"gender"`
	DateOfBirth    *time.Time `json:"date_of_birth"`
	Address        string     `json:"address"`
	BVN            string     `json:"-"`
	KYCStatus      string     `gorm:"default:'none'" json:"kyc_status"`
	OnboardingStep string     `gorm:"default:'initial'" json:"onboarding_step"`
	PINHash        string     `json:"-"`
	PINFailures    int        `json:"-"`
	PINLockedUntil *time.Time `json:"-"`
	RiskScore      float64    `gorm:"default:0" json:"risk_score"`
	ReferralCode   string     `gorm:"uniqueIndex;default:null" json:"referral_code"`
	ReferredBy     string     `json:"referred_by"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	IsBanned       bool       `gorm:"default:false" json:"is_banned"`
	LastWelcomedAt *time.Time `json:"-"`
	LastSeenAt     *time.Time `json:"-"`

	Wallet Wallet `json:"wallet,omitempty" gorm:"foreignKey:UserID"`
}

// HasPIN reports whether the user has completed PIN setup.
func (u *User) HasPIN() bool {
	return u.PINHash != ""
}

// PINLocked reports whether the PIN lockout window is still in effect.
func (u *User) PINLocked(now time.Time) bool {
	return u.PINLockedUntil != nil && now.Before(*u.PINLockedUntil)
}

// CanTransact reports whether the user is allowed to perform wallet debits.
func (u *User) CanTransact(now time.Time) bool {
	return u.IsActive && !u.IsBanned &&
		u.OnboardingStep == OnboardingStepCompleted &&
		u.HasPIN() && !u.PINLocked(now)
}

// FullName returns the user's display name, falling back to the number.
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.WhatsAppNumber
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
