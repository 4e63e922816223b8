package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
)

const (
	AudienceApproval = "keychain:approval"
	AudienceSurface  = "keychain:surface"
)

// JWTTokenizer implements the ApprovalTokenizer and SurfaceTokenizer
// interfaces using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
}

var (
	_ ports.ApprovalTokenizer = (*JWTTokenizer)(nil)
	_ ports.SurfaceTokenizer  = (*JWTTokenizer)(nil)
)

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) *JWTTokenizer {
	return &JWTTokenizer{signKey: signKey}
}

// ApprovalToToken signs an approval record
func (j *JWTTokenizer) ApprovalToToken(approval *core.Approval) (string, error) {
	claims := ApprovalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approval.Address,
			ID:        approval.RequestID,
			ExpiresAt: jwt.NewNumericDate(approval.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(approval.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceApproval},
		},
		Origin:           approval.Origin,
		Policies:         approval.Policies,
		SessionExpiresAt: approval.SessionExpiresAt,
		SessionKey:       approval.SessionKeyPublic,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign approval: %w", err)
	}

	return signedToken, nil
}

// TokenToApproval verifies a token and returns the approval it carries
func (j *JWTTokenizer) TokenToApproval(tokenStr string) (*core.Approval, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ApprovalClaims{}, j.keyFunc,
		jwt.WithAudience(AudienceApproval), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse approval: %w: %w", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*ApprovalClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type: %w", core.ErrInvalidToken)
	}

	approval := &core.Approval{
		RequestID:        claims.ID,
		Origin:           claims.Origin,
		Address:          claims.Subject,
		Policies:         claims.Policies,
		SessionExpiresAt: claims.SessionExpiresAt,
		SessionKeyPublic: claims.SessionKey,
		ExpiresAt:        claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		approval.IssuedAt = claims.IssuedAt.Time
	}

	return approval, nil
}

// SurfaceToken issues a bearer token for the approval surface named subject
func (j *JWTTokenizer) SurfaceToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SurfaceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceSurface},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign surface token: %w", err)
	}

	return signedToken, nil
}

// VerifySurfaceToken verifies a surface token and returns its subject
func (j *JWTTokenizer) VerifySurfaceToken(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SurfaceClaims{}, j.keyFunc,
		jwt.WithAudience(AudienceSurface), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("failed to parse surface token: %w: %w", core.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SurfaceClaims)
	if !ok || !token.Valid {
		return "", core.ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("surface token without subject: %w", core.ErrInvalidToken)
	}

	return claims.Subject, nil
}

func (j *JWTTokenizer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &j.signKey.PublicKey, nil
}
