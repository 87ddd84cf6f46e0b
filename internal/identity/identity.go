package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the authenticated caller as asserted by the auth service.
type Identity struct {
	UserID     int
	Username   string
	Privileged bool
}

// Claims is the token payload issued by the auth service.
type Claims struct {
	UserID     int    `json:"uid"`
	Username   string `json:"username"`
	Privileged bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Verifier validates JWTs minted by the external auth service. The relay
// never issues tokens itself.
type Verifier struct {
	secretKey []byte
	issuer    string
}

// NewVerifier builds a Verifier for the shared HS256 secret.
func NewVerifier(secretKey, issuer string) *Verifier {
	return &Verifier{secretKey: []byte(secretKey), issuer: issuer}
}

// Verify parses and validates a token string and returns the caller identity.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return Identity{}, ErrInvalidToken
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID:     claims.UserID,
		Username:   claims.Username,
		Privileged: claims.Privileged,
	}, nil
}

// Sign mints a token for the given identity. Used by tests and local tooling;
// production tokens come from the auth service.
func (v *Verifier) Sign(id Identity, validity time.Duration) (string, error) {
	claims := Claims{
		UserID:     id.UserID,
		Username:   id.Username,
		Privileged: id.Privileged,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    v.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}
