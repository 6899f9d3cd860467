package cognito

import (
	"time"

	"github.com/panyam/authkit"
)

// User is the authkit.User variant built from user-pool attributes.
// Cognito users are never anonymous and report no provider links.
type User struct {
	id          string
	email       string
	displayName string
	givenName   string
	familyName  string
	createdAt   time.Time
}

// NewUser merges attributes with the current user-pool user. The ID is the
// custom:persistenceUID attribute when present, else the pool's user ID.
func NewUser(attrs []Attribute, current *CurrentUser) *User {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if _, seen := m[a.Key]; !seen {
			m[a.Key] = a.Value
		}
	}

	u := &User{
		email:       m[AttributeEmail],
		displayName: m[AttributeName],
		givenName:   m[AttributeGivenName],
		familyName:  m[AttributeFamilyName],
	}
	if id, ok := m[AttributePersistenceUID]; ok {
		u.id = id
	} else if current != nil {
		u.id = current.UserID
	}
	if s, ok := m[AttributeCreatedAt]; ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			u.createdAt = t
		}
	}
	return u
}

func (u *User) UserID() string          { return u.id }
func (u *User) Email() string           { return u.email }
func (u *User) IsAnonymous() bool       { return false }
func (u *User) DisplayName() string     { return u.displayName }
func (u *User) GivenName() string       { return u.givenName }
func (u *User) FamilyName() string      { return u.familyName }
func (u *User) CreationDate() time.Time { return u.createdAt }

func (u *User) AuthProviderLinks() []authkit.AuthProviderLink { return nil }
