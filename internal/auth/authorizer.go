package auth

import "strings"

// Authorizer decides whether a requester may invoke privileged commands.
// It is immutable after construction and safe for concurrent use without locking.
type Authorizer struct {
	allowed map[string]struct{}
}

// NewAuthorizer builds an allow-list from ids. Blank entries are ignored; an
// empty list puts the authorizer in open mode.
func NewAuthorizer(ids []string) *Authorizer {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		allowed[id] = struct{}{}
	}
	return &Authorizer{allowed: allowed}
}

// IsAuthorized reports whether id exactly matches an allow-list entry, or
// true for every id in open mode.
func (a *Authorizer) IsAuthorized(id string) bool {
	if a == nil || len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[id]
	return ok
}

// Open reports whether no allow-list is configured.
func (a *Authorizer) Open() bool {
	return a == nil || len(a.allowed) == 0
}

// Len returns the number of allow-list entries.
func (a *Authorizer) Len() int {
	if a == nil {
		return 0
	}
	return len(a.allowed)
}
