package flows

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"github.com/emeka-okafor/kudipal/utils"
)

// Tokens issues and verifies flow tokens: HMAC-signed opaque strings binding
// a Flow interaction to (user, flow type, nonce). A token is only as alive
// as its FlowSession; verification here covers signature and expiry.
type Tokens struct {
	secret []byte
}

// NewTokens creates a Tokens signer over the configured secret.
func NewTokens(secret string) *Tokens {
	if secret == "" {
		utils.LogWarn("Flow token secret missing, flow exchanges will be rejected")
	}
	return &Tokens{secret: []byte(secret)}
}

// TokenClaims are the verified contents of a flow token.
type TokenClaims struct {
	UserID   uint
	FlowType string
	Nonce    string
}

// Issue signs a token for the user and flow type.
func (t *Tokens) Issue(userID uint, flowType string, ttl time.Duration) (string, error) {
	if len(t.secret) == 0 {
		return "", utils.E(utils.KindFlowTokenInvalid, "flow token secret not configured", nil)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"flow":    flowType,
		"nonce":   uuid.New().String(),
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})
	return token.SignedString(t.secret)
}

// Verify checks the signature and expiry and returns the claims.
func (t *Tokens) Verify(raw string) (*TokenClaims, error) {
	if len(t.secret) == 0 {
		return nil, utils.E(utils.KindFlowTokenInvalid, "flow token secret not configured", nil)
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, utils.E(utils.KindFlowTokenInvalid, "invalid flow token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, utils.E(utils.KindFlowTokenInvalid, "invalid flow token claims", nil)
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return nil, utils.E(utils.KindFlowTokenInvalid, "flow token missing user", nil)
	}
	flowType, _ := claims["flow"].(string)
	nonce, _ := claims["nonce"].(string)
	return &TokenClaims{UserID: uint(userID), FlowType: flowType, Nonce: nonce}, nil
}
