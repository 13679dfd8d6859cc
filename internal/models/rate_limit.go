package models

import "time"

// RateClass names an independent request budget.
type RateClass string

const (
	RateClassLogin         RateClass = "login"
	RateClassRegister      RateClass = "register"
	RateClassPasswordReset RateClass = "password-reset"
	RateClassSensitive     RateClass = "sensitive"
	RateClassGlobal        RateClass = "global"
	RateClassLockoutCheck  RateClass = "lockout-check"
)

// RateDecision is the outcome of charging one request against a budget.
type RateDecision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// BlockedAddress is an active block on a client address.
type BlockedAddress struct {
	Address string    `json:"address"`
	Reason  string    `json:"reason"`
	Until   time.Time `json:"until"`
}

// Block reasons
const (
	BlockReasonBruteForce = "brute_force"
	BlockReasonRiskScore  = "risk_score"
	BlockReasonManual     = "manual"
)

// AddressReport is the admin view of one client address.
type AddressReport struct {
	Address        string          `json:"address"`
	Blocked        *BlockedAddress `json:"blocked,omitempty"`
	RiskScore      int             `json:"risk_score"`
	RecentFailures int             `json:"recent_failures"`
}
