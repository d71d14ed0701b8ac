package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrWrongTokenType is returned when a structurally valid token carries the
// wrong type discriminator, e.g. a refresh token presented where an access
// token is required.
var ErrWrongTokenType = errors.New("wrong token type")

// Claims carry the login name as the registered subject and the user id as
// a dedicated claim, so the token's sub matches the identity the user signed
// in with while lookups still key on the immutable id.
type Claims struct {
	TokenType string `json:"token_type"`
	UserID    string `json:"uid"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
	}
}

// SignPair mints an access/refresh pair sharing one jti so a logout can
// correlate the denylist entry with the refresh session through a single key.
func (m *JWTManager) SignPair(userID uuid.UUID, username string, accessTTL, refreshTTL time.Duration) (access, refresh, jti string, err error) {
	jti = uuid.NewString()
	access, err = m.sign(TokenTypeAccess, m.accessSecret, userID, username, jti, accessTTL)
	if err != nil {
		return "", "", "", err
	}
	refresh, err = m.sign(TokenTypeRefresh, m.refreshSecret, userID, username, jti, refreshTTL)
	if err != nil {
		return "", "", "", err
	}
	return access, refresh, jti, nil
}

func (m *JWTManager) sign(tokenType string, secret []byte, userID uuid.UUID, username, jti string, ttl time.Duration) (string, error) {
	claims := Claims{
		TokenType: tokenType,
		UserID:    userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   username,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, TokenTypeAccess, m.accessSecret, m.refreshSecret)
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.parse(raw, TokenTypeRefresh, m.refreshSecret, m.accessSecret)
}

func (m *JWTManager) parse(raw, tokenType string, secret, altSecret []byte) (*Claims, error) {
	claims, err := m.verify(raw, secret)
	if err != nil {
		// A token of the other type fails the signature check before the
		// type check; verify against the other secret so the mismatch is
		// reported as such instead of as a generic parse failure.
		if alt, altErr := m.verify(raw, altSecret); altErr == nil && alt.TokenType != tokenType {
			return nil, ErrWrongTokenType
		}
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (m *JWTManager) verify(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// SubjectID parses the user id claim.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.UserID)
}

// RemainingTTL is how long the token stays naturally valid; a denylist entry
// never needs to outlive it.
func (c *Claims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
