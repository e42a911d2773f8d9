package contracts

import "time"

// Tier controls scan frequency, result visibility and API rate
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierSuper   Tier = "super"
)

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium || t == TierSuper
}

// User is a registered account
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Tier         Tier       `json:"tier"`
	InviteCode   string     `json:"invite_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	IsActive     bool       `json:"is_active"`
}
