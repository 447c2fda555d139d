package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrEmptySubject = errors.New("token subject is required")
)

// ServiceClaims identify the calling service and the request that caused the call.
type ServiceClaims struct {
	TransactionID string `json:"txid,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints short-lived HS256 service tokens. The secret is shared with the
// receiving service, which is responsible for validating them.
type Manager struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
	TTL    time.Duration
}

func NewManager(secret string, ttl time.Duration) Manager {
	return Manager{
		Secret: []byte(secret),
		Now:    func() time.Time { return time.Now().UTC() },
		TTL:    ttl,
	}
}

// Issue signs a token for subject carrying the correlation id of the current request.
func (m Manager) Issue(subject, transactionID string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ErrEmptySubject
	}
	now := m.Now()
	claims := ServiceClaims{
		TransactionID: transactionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
}

// Parse verifies signature and expiry. Only the receiving side and tests need it.
func (m Manager) Parse(token string) (ServiceClaims, error) {
	var claims ServiceClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ServiceClaims{}, ErrExpiredToken
		}
		return ServiceClaims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" {
		return ServiceClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func BearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
