package utils

// TokenProvider supplies the bearer token and user id for backend calls.
// Token acquisition itself happens outside this subsystem.
type TokenProvider interface {
	Token() (string, error)
	UserID() string
}

// StaticTokenProvider wraps an already-acquired token. Useful in tests and
// for hosts that refresh tokens by swapping the provider.
type StaticTokenProvider struct {
	Bearer string
	User   string
}

func (p StaticTokenProvider) Token() (string, error) {
	if p.Bearer == "" {
		return "", AuthError("no token available")
	}
	return p.Bearer, nil
}

func (p StaticTokenProvider) UserID() string {
	return p.User
}
