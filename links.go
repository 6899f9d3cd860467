package authkit

// ProviderRecord is a backend's record of one provider attached to an account.
type ProviderRecord struct {
	ProviderID string
	Email      string
}

// BuildProviderLinks derives one AuthProviderLink per AuthProvider from the
// backend's provider records. idOf maps each AuthProvider to the identifier
// the backend uses for it; matching is case-sensitive.
func BuildProviderLinks(records []ProviderRecord, idOf func(AuthProvider) string) []AuthProviderLink {
	out := make([]AuthProviderLink, 0, len(AllProviders()))
	for _, p := range AllProviders() {
		link := AuthProviderLink{Provider: p}
		want := idOf(p)
		for _, r := range records {
			if r.ProviderID == want {
				link.IsLinked = true
				link.Email = r.Email
				break
			}
		}
		out = append(out, link)
	}
	return out
}

// LinkFor returns the link entry for p, if present.
func LinkFor(links []AuthProviderLink, p AuthProvider) (AuthProviderLink, bool) {
	for _, l := range links {
		if l.Provider == p {
			return l, true
		}
	}
	return AuthProviderLink{}, false
}

// IsLinked reports whether u has p attached.
func IsLinked(u User, p AuthProvider) bool {
	if u == nil {
		return false
	}
	l, ok := LinkFor(u.AuthProviderLinks(), p)
	return ok && l.IsLinked
}

// LinkedCount returns how many providers are attached.
func LinkedCount(links []AuthProviderLink) int {
	n := 0
	for _, l := range links {
		if l.IsLinked {
			n++
		}
	}
	return n
}

// CanUnlink reports whether removing one provider would still leave the
// account reachable. Presentation layers use it to offer the unlink action;
// Unlink itself does not enforce it.
func CanUnlink(links []AuthProviderLink) bool {
	return LinkedCount(links) > 1
}
