package model

import "time"

// Role is the closed set of account roles. Policy checks switch on it
// exhaustively; anything outside the four constants is rejected at the edge
// by ParseRole.
type Role string

const (
	RoleSysadmin   Role = "sysadmin"
	RoleShopOwner  Role = "shop_owner"
	RoleAffiliator Role = "affiliator"
	RoleCustomer   Role = "customer"
)

// ParseRole maps a raw string onto a Role. ok is false for anything outside
// the enum, including the empty string.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleSysadmin, RoleShopOwner, RoleAffiliator, RoleCustomer:
		return Role(value), true
	default:
		return "", false
	}
}

// Account is a user row. ID is the storage key and never leaves the process;
// UID is the public identifier.
type Account struct {
	ID           int64
	UID          string
	FullName     string
	Email        string
	PhoneNumber  *string
	NationalID   *string
	PasswordHash string
	AvatarURL    *string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Shop struct {
	ID                    int64
	ShopID                string
	Name                  string
	Subdomain             string
	OwnerID               int64
	LogoURL               *string
	Hotline               *string
	Address               *string
	ProvinceID            *string
	DistrictID            *string
	BankAccountName       *string
	BankAccountNumber     *string
	BankName              *string
	FooterCopyright       *string
	TrackingScripts       map[string]string
	DefaultShippingFee    float64
	FreeShippingThreshold *float64
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
