package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// OAuthStateClaims signs the state parameter of the Meta login redirect.
type OAuthStateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}
