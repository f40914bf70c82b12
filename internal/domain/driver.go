package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VehicleType selects the pricing multiplier applied to a fare.
type VehicleType string

const (
	VehicleTypeEconomy VehicleType = "economy"
	VehicleTypeComfort VehicleType = "comfort"
	VehicleTypePremium VehicleType = "premium"
)

// Valid reports whether v is a known vehicle type.
func (v VehicleType) Valid() bool {
	switch v {
	case VehicleTypeEconomy, VehicleTypeComfort, VehicleTypePremium:
		return true
	}
	return false
}

// VerificationStatus is the document-check status of a driver.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// DriverProfile extends a User with role=driver.
// IsAvailable implies IsOnline.
type DriverProfile struct {
	UserID             string
	VehicleType        VehicleType
	VehicleMake        string
	VehicleModel       string
	VehiclePlate       string
	IsOnline           bool
	IsAvailable        bool
	VerificationStatus VerificationStatus
	TotalEarnings      decimal.Decimal
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanAcceptTrips reports whether the driver may be assigned a trip right now.
func (d *DriverProfile) CanAcceptTrips() bool {
	return d.VerificationStatus == VerificationVerified && d.IsOnline && d.IsAvailable
}
