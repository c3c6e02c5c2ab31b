package auth

// Principal is the authenticated caller as described by a validated access token.
// Its permissions are a snapshot taken when the token was issued.
type Principal struct {
	UserID      string
	Email       string
	Name        string
	UserType    UserType
	GroupID     string
	GroupName   string
	TokenID     string
	Permissions PermissionSet
}

// PrincipalFromClaims builds a principal from validated claims.
func PrincipalFromClaims(c *Claims) Principal {
	return Principal{
		UserID:      c.Subject,
		Email:       c.Email,
		Name:        c.Name,
		UserType:    c.UserType,
		GroupID:     c.GroupID,
		GroupName:   c.GroupName,
		TokenID:     c.ID,
		Permissions: NewPermissionSet(c.Permissions...),
	}
}

// HasPermission reports whether perm was granted. Anything not granted is denied.
func (p Principal) HasPermission(perm PermissionCode) bool {
	return p.Permissions.Has(perm)
}

// HasAnyPermission reports whether at least one of perms was granted.
func (p Principal) HasAnyPermission(perms ...PermissionCode) bool {
	for _, perm := range perms {
		if p.HasPermission(perm) {
			return true
		}
	}
	return false
}

// InGroup reports whether the principal's group is named name.
func (p Principal) InGroup(name string) bool {
	return name != "" && p.GroupName == name
}
