package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/soyeahso/bizagent/internal/domain"
)

// Signer produces the proof token stored on a confirmed transaction.
type Signer interface {
	Sign(tx domain.Transaction) (string, error)
}

// JWTSigner signs transactions as HS256 JWTs.
type JWTSigner struct {
	secret []byte
}

// NewJWTSigner returns nil when secret is empty.
func NewJWTSigner(secret string) *JWTSigner {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &JWTSigner{secret: []byte(secret)}
}

type transactionClaims struct {
	Amount    float64 `json:"amt"`
	Recipient string  `json:"to"`
	Type      string  `json:"typ"`
	jwt.RegisteredClaims
}

// Sign returns a token binding user, transaction id, amount and recipient phone.
func (s *JWTSigner) Sign(tx domain.Transaction) (string, error) {
	claims := transactionClaims{
		Amount:    tx.Amount,
		Recipient: tx.RecipientPhone,
		Type:      tx.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  tx.UserID,
			ID:       tx.ID,
			IssuedAt: jwt.NewNumericDate(tx.CreatedAt),
		},
	}
	if tx.ConfirmedAt != nil {
		claims.IssuedAt = jwt.NewNumericDate(*tx.ConfirmedAt)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}
	return signed, nil
}

// Verify checks a token produced by Sign and returns the transaction id it covers.
func (s *JWTSigner) Verify(token string) (string, error) {
	var claims transactionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid signature")
	}
	return claims.ID, nil
}
