package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// ReviewerID is the decision audit identity: every approve/reject is stamped
// with it, so a token without one is useless and rejected at verification.
type Claims struct {
	jwt.RegisteredClaims

	ReviewerID string `json:"reviewer_id"`
	Name       string `json:"name,omitempty"`
}
