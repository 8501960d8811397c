package services

import (
	"testing"
	"time"

	"quickdowntime/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	svc := NewAuthService("secret", time.Hour, "quickdowntime")
	user := &domain.User{ID: "42", Email: "boss@plant.io", Role: domain.RoleManager}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	got, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestAuthService_WrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", time.Hour, "")
	verifier := NewAuthService("secret-b", time.Hour, "")

	token, err := issuer.GenerateToken(&domain.User{ID: "1", Role: domain.RoleOperator})
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthService_Expired(t *testing.T) {
	svc := NewAuthService("secret", time.Minute, "").(*authService)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }

	token, err := svc.GenerateToken(&domain.User{ID: "1", Role: domain.RoleOperator})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthService_RejectsUnknownRole(t *testing.T) {
	claims := &Claims{
		Email: "x@plant.io",
		Role:  "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewAuthService("secret", time.Hour, "").VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{
		Role:             domain.RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "7"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewAuthService("secret", time.Hour, "").VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_Garbage(t *testing.T) {
	_, err := NewAuthService("secret", time.Hour, "").VerifyToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_GenerateValidation(t *testing.T) {
	svc := NewAuthService("secret", time.Hour, "")
	_, err := svc.GenerateToken(&domain.User{Role: domain.RoleManager})
	assert.Error(t, err)
	_, err = svc.GenerateToken(&domain.User{ID: "1", Role: "guest"})
	assert.Error(t, err)
	_, err = svc.GenerateToken(&domain.User{ID: "1", Email: "not-an-email", Role: domain.RoleOperator})
	assert.Error(t, err)
}
