package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"kari/api/internal/core/domain"
)

// AuthService implements domain.AuthService on top of TokenService, so the
// JWT minting/parsing logic lives in exactly one place.
type AuthService struct {
	repo   domain.UserRepository
	tokens *TokenService
}

func NewAuthService(repo domain.UserRepository, tokens *TokenService) *AuthService {
	return &AuthService{repo: repo, tokens: tokens}
}

// Login verifies credentials and mints a fresh token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, string, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", "", errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", "", errors.New("invalid credentials")
	}

	if !user.IsActive {
		return "", "", errors.New("account suspended")
	}

	accessToken, refreshToken, err := s.tokens.GenerateTokenPair(user)
	if err != nil {
		return "", "", err
	}

	if err := s.repo.UpdateRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return "", "", fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

// ValidateAccessToken verifies signature, expiry and token type, returning
// the claims RequireAuthentication injects into the request context.
func (s *AuthService) ValidateAccessToken(ctx context.Context, tokenString string) (*domain.UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &KariClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.tokens.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token signature or expired: %w", err)
	}

	claims, ok := token.Claims.(*KariClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.TokenType != "access" {
		return nil, fmt.Errorf("invalid token type: expected access")
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("malformed subject claim")
	}

	roleID, _ := uuid.Parse(claims.RoleID)

	return &domain.UserClaims{
		Subject:     subject,
		RoleID:      roleID,
		Email:       claims.Email,
		Rank:        claims.Rank,
		Permissions: claims.Permissions,
	}, nil
}
