package service

import (
	"errors"
	"time"

	"healthsurvey/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// AuthService validates bearer tokens issued to center users.
// Issuing is only used for development seeding.
type AuthService struct {
	jwtSecret []byte
}

// NewAuthService creates a new auth service
func NewAuthService(secret string) *AuthService {
	if secret == "" {
		secret = "super-secret-key-change-in-production"
	}
	return &AuthService{jwtSecret: []byte(secret)}
}

// IssueUserToken signs a token for userID valid for ttl
func (s *AuthService) IssueUserToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &model.UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateUserToken validates a user JWT and returns claims
func (s *AuthService) ValidateUserToken(tokenString string) (*model.UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
