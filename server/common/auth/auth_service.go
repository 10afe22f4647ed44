package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the attendant identity. CompanyID is the active tenant; it is
// absent on tokens issued before a company was selected.
type Claims struct {
	UserID    int64  `json:"user_id"`
	CompanyID *int64 `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

type Identity struct {
	UserID    int64
	CompanyID int64
	HasTenant bool
}

type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret string, ttlMinutes int) *Service {
	return &Service{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// GenerateToken is used by tests and local tooling; token issuance proper lives
// in the identity service.
func (s *Service) GenerateToken(userID int64, companyID *int64) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user")
	}
	return claims, nil
}

func (s *Service) ParseIdentity(token string) (Identity, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{UserID: claims.UserID}
	if claims.CompanyID != nil && *claims.CompanyID > 0 {
		id.CompanyID = *claims.CompanyID
		id.HasTenant = true
	}
	return id, nil
}
