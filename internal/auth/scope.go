package auth

import "github.com/noah-isme/backend-antar/internal/common"

// ManagedEstablishment resolves which establishment an offer write is scoped
// to. Establishment staff are pinned to their own establishment; admins may
// target any establishment or none.
func ManagedEstablishment(p common.Principal, requested *string) (*string, error) {
	switch p.Role {
	case RoleAdmin:
		return requested, nil
	case RoleEstablishment:
		if requested != nil && *requested != p.EstablishmentID {
			return nil, common.Forbidden("cannot manage offers for another establishment")
		}
		id := p.EstablishmentID
		return &id, nil
	default:
		return nil, common.Forbidden("role not permitted for this operation")
	}
}

// CanManage reports whether p may modify an offer scoped to establishmentID.
func CanManage(p common.Principal, establishmentID *string) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleEstablishment:
		return establishmentID != nil && *establishmentID == p.EstablishmentID
	default:
		return false
	}
}
