package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserRole identifies what a user can do on the platform.
type UserRole string

const (
	UserRoleRider  UserRole = "rider"
	UserRoleDriver UserRole = "driver"
	UserRoleAgent  UserRole = "agent"
	UserRoleAdmin  UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleRider, UserRoleDriver, UserRoleAgent, UserRoleAdmin:
		return true
	}
	return false
}

// UserStatus is the soft-delete status of a user.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

// User is an identity record. Users are never hard-deleted.
type User struct {
	ID            string
	PiUID         string
	Username      string
	WalletAddress string
	Role          UserRole
	Status        UserStatus
	Rating        decimal.Decimal
	RatingCount   int
	TotalTrips    int
	ReferredBy    string // agent user id, empty when not referred
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAdmin reports whether the user may act on disputes and pricing.
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin && u.Status == UserStatusActive
}

// AgentReferral tracks what an agent earned from one referred user.
type AgentReferral struct {
	AgentID         string
	ReferredUserID  string
	TotalTrips      int
	TotalCommission decimal.Decimal
	UpdatedAt       time.Time
}
