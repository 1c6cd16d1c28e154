package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketing-server/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidCSRFToken  = errors.New("invalid anti-forgery token")
	ErrMissingCredential = errors.New("missing credential")
)

// Actor is the explicit admin identity threaded through every core call.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Service issues and validates session and anti-forgery tokens.
type Service struct {
	jwtSecret string
	logger    *observability.Logger
}

func New(jwtSecret string, logger *observability.Logger) Service {
	return Service{
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// IssueSessionToken creates a 24h admin session token.
func (s Service) IssueSessionToken(ctx context.Context, actor Actor) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   actor.ID.String(),
		"name":  actor.Name,
		"email": actor.Email,
		"iss":   "marketing-server",
		"aud":   "marketing-server",
		"exp":   now.Add(24 * time.Hour).Unix(),
		"iat":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.logger.Error(ctx, "failed to sign session token", err)
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken parses a session token back into an Actor.
func (s Service) ValidateSessionToken(ctx context.Context, tokenString string) (Actor, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil {
		return Actor{}, ErrInvalidToken
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)
	return Actor{ID: id, Name: name, Email: email}, nil
}

// IssueCSRFToken creates a short-lived anti-forgery token bound to the actor.
// Every mutating action must echo it back in the request body.
func (s Service) IssueCSRFToken(ctx context.Context, actorID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":     actorID.String(),
		"purpose": "csrf",
		"exp":     now.Add(2 * time.Hour).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.logger.Error(ctx, "failed to sign anti-forgery token", err)
		return "", fmt.Errorf("failed to sign anti-forgery token: %w", err)
	}
	return signed, nil
}

// VerifyCSRFToken validates an anti-forgery token against the acting admin.
func (s Service) VerifyCSRFToken(tokenString string, actorID uuid.UUID) error {
	if tokenString == "" {
		return ErrInvalidCSRFToken
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidCSRFToken
	}
	if purpose, _ := claims["purpose"].(string); purpose != "csrf" {
		return ErrInvalidCSRFToken
	}
	if sub, _ := claims["sub"].(string); sub != actorID.String() {
		return ErrInvalidCSRFToken
	}
	return nil
}
