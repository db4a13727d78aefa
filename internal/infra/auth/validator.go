package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

var ErrNoSubject = errors.New("token has no user_id")

// ConsoleValidator проверяет bearer-токены консоли: только RS256, exp обязателен,
// issuer сверяется если задан.
type ConsoleValidator struct {
	parser *jwt.Parser
	key    any
}

// NewConsoleValidator разбирает PEM публичного ключа
func NewConsoleValidator(pemData []byte, issuer string) (*ConsoleValidator, error) {
	if len(pemData) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &ConsoleValidator{parser: jwt.NewParser(opts...), key: key}, nil
}

// VerifyToken принимает значение заголовка Authorization целиком или голый токен
func (v *ConsoleValidator) VerifyToken(header string) (*domain.CustomClaims, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	claims := &domain.CustomClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.UserID == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}
