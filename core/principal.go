package core

import (
	"errors"
	"strconv"
)

// Role selects which portal surface a Principal may enter.
type Role string

const (
	RoleAdministrator   Role = "admin"
	RoleBusinessPartner Role = "partner"
)

// ErrInvalidPrincipal is returned when a role/identity pair cannot be encoded.
var ErrInvalidPrincipal = errors.New("invalid principal")

// Principal is the authenticated identity recovered from a verified credential.
// IdentityID is the partner's business record id and is zero for administrators.
type Principal struct {
	Role       Role
	IdentityID int64
}

// AdministratorPrincipal returns the principal issued to administrators.
func AdministratorPrincipal() Principal {
	return Principal{Role: RoleAdministrator}
}

// PartnerPrincipal returns the principal issued to the partner owning businessID.
func PartnerPrincipal(businessID int64) Principal {
	return Principal{Role: RoleBusinessPartner, IdentityID: businessID}
}

// HasIdentity reports whether the principal carries a business record id.
func (p Principal) HasIdentity() bool {
	return p.IdentityID != 0
}

func (p Principal) validate() error {
	switch p.Role {
	case RoleAdministrator:
		if p.IdentityID != 0 {
			return ErrInvalidPrincipal
		}
	case RoleBusinessPartner:
		if p.IdentityID <= 0 {
			return ErrInvalidPrincipal
		}
	default:
		return ErrInvalidPrincipal
	}
	return nil
}

func (p Principal) String() string {
	if p.HasIdentity() {
		return string(p.Role) + ":" + strconv.FormatInt(p.IdentityID, 10)
	}
	return string(p.Role)
}
