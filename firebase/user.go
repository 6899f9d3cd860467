package firebase

import (
	"strings"
	"time"

	"github.com/panyam/authkit"
)

// User is the authkit.User variant backed by a UserRecord.
type User struct {
	rec UserRecord
}

// NewUser wraps rec. It returns nil when rec is nil.
func NewUser(rec *UserRecord) *User {
	if rec == nil {
		return nil
	}
	u := &User{rec: *rec}
	u.rec.ProviderData = append([]ProviderInfo(nil), rec.ProviderData...)
	return u
}

// asAuthUser avoids handing out a typed nil inside the interface.
func asAuthUser(rec *UserRecord) authkit.User {
	if rec == nil {
		return nil
	}
	return NewUser(rec)
}

func (u *User) UserID() string          { return u.rec.UID }
func (u *User) Email() string           { return u.rec.Email }
func (u *User) IsAnonymous() bool       { return u.rec.IsAnonymous }
func (u *User) DisplayName() string     { return u.rec.DisplayName }
func (u *User) CreationDate() time.Time { return u.rec.CreatedAt }

// Record returns a copy of the underlying record.
func (u *User) Record() UserRecord { return u.rec }

// GivenName is the first word of the display name.
func (u *User) GivenName() string {
	given, _ := splitName(u.rec.DisplayName)
	return given
}

// FamilyName is everything after the first word of the display name.
func (u *User) FamilyName() string {
	_, family := splitName(u.rec.DisplayName)
	return family
}

func (u *User) AuthProviderLinks() []authkit.AuthProviderLink {
	records := make([]authkit.ProviderRecord, 0, len(u.rec.ProviderData))
	for _, p := range u.rec.ProviderData {
		records = append(records, authkit.ProviderRecord{ProviderID: p.ProviderID, Email: p.Email})
	}
	return authkit.BuildProviderLinks(records, ProviderIDFor)
}

func splitName(name string) (given, family string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// ProviderIDFor maps an AuthProvider to the backend's provider identifier.
func ProviderIDFor(p authkit.AuthProvider) string {
	switch p {
	case authkit.ProviderGoogle:
		return ProviderIDGoogle
	case authkit.ProviderEmail:
		return ProviderIDPassword
	case authkit.ProviderApple:
		return ProviderIDApple
	}
	return ""
}

// backendProviderID translates a canonical identifier; unknown identifiers
// pass through unchanged.
func backendProviderID(id string) string {
	if p, ok := authkit.ParseAuthProvider(id); ok {
		return ProviderIDFor(p)
	}
	return id
}
