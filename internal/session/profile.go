package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoProfile is returned when a profile has no stored credentials.
// Callers treat this as a programmer/configuration error and fail fast;
// it is never absorbed into the pending-operation path.
var ErrNoProfile = errors.New("profile has no stored credentials")

// Profile holds the authenticated identity for a profile. Authentication
// itself happens outside the engine; the engine only consumes the stable
// user id and the bearer token written here at login time.
type Profile struct {
	UserID    string `toml:"user_id"`
	Username  string `toml:"username"`
	AvatarURL string `toml:"avatar_url"`
	Token     string `toml:"token"`
}

// LoadProfile reads the stored credentials for a profile.
// Returns ErrNoProfile if the file is missing or holds no user id.
func LoadProfile(name string) (*Profile, error) {
	path := ProfilePath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNoProfile
	}
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.UserID == "" {
		return nil, ErrNoProfile
	}
	return &p, nil
}

// SaveProfile writes credentials for a profile.
func SaveProfile(name string, p *Profile) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	f, err := os.OpenFile(ProfilePath(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(p)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// TokenExpiry reports the expiry of the stored bearer token, if it is a JWT
// carrying an exp claim. The daemon holds no signing key, so the token is
// inspected without signature verification; the server remains the authority.
// Returns the zero time when the token carries no expiry.
func (p *Profile) TokenExpiry() (time.Time, error) {
	if p.Token == "" {
		return time.Time{}, nil
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(p.Token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
