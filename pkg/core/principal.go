package core

// Principal is the authenticated caller attached to every inbound request:
// a user identifier plus the permission set granted to it. The core never
// performs identity resolution; it only enforces the permissions it is handed.
type Principal struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the principal holds the named permission.
func (p Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// HasAny reports whether the principal holds at least one of the given
// permissions. An empty requirement list means no permission is needed.
func (p Principal) HasAny(perms []string) bool {
	if len(perms) == 0 {
		return true
	}
	for _, want := range perms {
		if p.HasPermission(want) {
			return true
		}
	}
	return false
}

// SystemPrincipal is used for internal operations that bypass no permission
// checks but need a stable identity in audit records.
func SystemPrincipal() Principal {
	return Principal{UserID: "system", Permissions: nil}
}
