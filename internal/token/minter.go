// Package token implements the access/refresh JWT lifecycle: an HS256
// minter that signs and verifies token pairs, and a persistent registry
// that records digests of every issued pair so tokens can be revoked
// and expired rows swept. A token is accepted only when the minter
// verifies it, the registry knows its digest, and the row is not
// revoked.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the token_type claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// MinSecretLen is the smallest signing secret the minter accepts.
// HS256 keys shorter than the hash output weaken the MAC.
const MinSecretLen = 32

var (
	// ErrSecret is returned by NewMinter for undersized secrets.
	ErrSecret = errors.New("signing secret too short")
	// ErrInvalid covers malformed tokens and bad signatures.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired is returned for structurally valid tokens past exp.
	ErrExpired = errors.New("token expired")
	// ErrClaim is returned when a required claim is missing or when the
	// token_type does not match what the caller demanded.
	ErrClaim = errors.New("invalid token claims")
)

// Claims is the payload of every token this service signs.
type Claims struct {
	Username  string   `json:"username"`
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair bundles a freshly minted access+refresh token set. Both tokens
// share one jti, which keys the registry row for the pair.
type Pair struct {
	JTI              string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Minter signs and verifies HS256 JWTs with a shared secret.
type Minter struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewMinter builds a minter for the given secret and lifetimes. The
// secret must be at least MinSecretLen bytes.
func NewMinter(secret string, accessTTL, refreshTTL time.Duration) (*Minter, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrSecret, MinSecretLen, len(secret))
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Minter{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (m *Minter) AccessTTL() time.Duration { return m.accessTTL }

// MintPair issues an access+refresh pair for the client. One fresh
// UUID jti is shared by both tokens so revoking the pair kills both.
func (m *Minter) MintPair(clientID, username string, roles []string) (*Pair, error) {
	if clientID == "" || username == "" {
		return nil, fmt.Errorf("%w: client id and username required", ErrClaim)
	}
	jti := uuid.NewString()
	now := time.Now().UTC()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(clientID, username, roles, jti, KindAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(clientID, username, roles, jti, KindRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}
	return &Pair{
		JTI:              jti,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *Minter) sign(clientID, username string, roles []string, jti, kind string, now, expires time.Time) (string, error) {
	claims := &Claims{
		Username:  username,
		Roles:     roles,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return raw, nil
}

// Verify checks the signature, expiry, and required claims of a raw
// token and returns its claims. Expired tokens yield ErrExpired so
// callers can distinguish them from forgeries.
func (m *Minter) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Subject == "" || claims.ID == "" || claims.Username == "" {
		return nil, fmt.Errorf("%w: sub, jti, and username are required", ErrClaim)
	}
	if claims.TokenType != KindAccess && claims.TokenType != KindRefresh {
		return nil, fmt.Errorf("%w: unknown token_type %q", ErrClaim, claims.TokenType)
	}
	return claims, nil
}

// VerifyAccess verifies raw and requires an access token.
func (m *Minter) VerifyAccess(raw string) (*Claims, error) {
	return m.verifyKind(raw, KindAccess)
}

// VerifyRefresh verifies raw and requires a refresh token.
func (m *Minter) VerifyRefresh(raw string) (*Claims, error) {
	return m.verifyKind(raw, KindRefresh)
}

func (m *Minter) verifyKind(raw, kind string) (*Claims, error) {
	claims, err := m.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != kind {
		return nil, fmt.Errorf("%w: expected %s token, have %s", ErrClaim, kind, claims.TokenType)
	}
	return claims, nil
}

// Refresh verifies a refresh token and mints a replacement access
// token. The new token carries a fresh jti of its own; the registry
// row stays keyed by the pair's original jti, so callers must swap the
// stored access digest with Registry.ReplaceAccess.
func (m *Minter) Refresh(refreshToken string) (string, time.Time, error) {
	claims, err := m.VerifyRefresh(refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expires := now.Add(m.accessTTL)
	raw, err := m.sign(claims.Subject, claims.Username, claims.Roles, uuid.NewString(), KindAccess, now, expires)
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, expires, nil
}
