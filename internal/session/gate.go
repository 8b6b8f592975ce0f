package session

// AuthState is the outcome of an authorization check.
type AuthState string

const (
	LoggedIn  AuthState = "logged_in"
	LoggedOut AuthState = "logged_out"
)

// Decision is the gate result. License is set only when LoggedIn.
type Decision struct {
	State   AuthState `json:"state"`
	License string    `json:"license,omitempty"`
	// Source tells where the login came from: "session" or "token".
	Source string `json:"source,omitempty"`
}

// LoggedIn reports whether the decision authorizes the caller.
func (d Decision) LoggedIn() bool {
	return d.State == LoggedIn
}

// Gate decides whether a request is logged in.
type Gate struct {
	tokens *TokenManager
}

// NewGate creates a gate reading tokens through tokens.
func NewGate(tokens *TokenManager) *Gate {
	return &Gate{tokens: tokens}
}

// Authorize checks, in order: an explicit logout on the session, a cached
// login on the session, then a well-formed token in the jar. A token login
// is cached on the session. Tokens are trusted without re-checking the
// ledger, so a license that expires later keeps working until logout.
func (g *Gate) Authorize(s *Session, jar Jar) Decision {
	if s == nil {
		return Decision{State: LoggedOut}
	}
	if s.ForcedOut() {
		return Decision{State: LoggedOut}
	}
	if license, ok := s.Authorized(); ok {
		return Decision{State: LoggedIn, License: license, Source: "session"}
	}
	if jar != nil {
		if tok, ok := g.tokens.Current(jar); ok {
			s.cacheAuthorization(tok.License)
			return Decision{State: LoggedIn, License: tok.License, Source: "token"}
		}
	}
	return Decision{State: LoggedOut}
}
