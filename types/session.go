package types

import "time"

type SessionState int

const (
	SessionAnonymous SessionState = iota
	SessionAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case SessionAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// SourceSession is the request scoped identity state. The codename lives only
// here (and in the encrypted token carrying it between requests).
type SourceSession struct {
	Codename  string       `json:"codename,omitempty"`
	State     SessionState `json:"state"`
	ExpiresAt int64        `json:"exp,omitempty"` // unix seconds, 0 for not yet authenticated
}

// IsAuthenticated reports whether the session is authenticated and not expired at now
func (s *SourceSession) IsAuthenticated(now time.Time) bool {
	if s == nil || s.State != SessionAuthenticated || s.Codename == "" {
		return false
	}
	return s.ExpiresAt == 0 || now.Unix() < s.ExpiresAt
}

// Reset moves the session back to anonymous and forgets the codename
func (s *SourceSession) Reset() {
	s.Codename = ""
	s.State = SessionAnonymous
	s.ExpiresAt = 0
}

// SourceContext is the resolved identity of one authenticated request. It is
// built fresh for each request and passed explicitly.
type SourceContext struct {
	Session   *SourceSession
	StorageID string
	DisplayID string
	Source    *SourceRecord
	Location  string
}
