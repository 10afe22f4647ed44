package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTripWithCompany(t *testing.T) {
	svc := NewService("secret", 5)
	company := int64(3)
	token, err := svc.GenerateToken(9, &company)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	id, err := svc.ParseIdentity(token)
	if err != nil {
		t.Fatalf("ParseIdentity: %v", err)
	}
	if id.UserID != 9 || !id.HasTenant || id.CompanyID != 3 {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestTokenWithoutCompanyHasNoTenant(t *testing.T) {
	svc := NewService("secret", 5)
	token, err := svc.GenerateToken(9, nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	id, err := svc.ParseIdentity(token)
	if err != nil {
		t.Fatalf("ParseIdentity: %v", err)
	}
	if id.HasTenant {
		t.Fatalf("expected no tenant claim, got %+v", id)
	}
}

func TestParseRejectsForeignSecret(t *testing.T) {
	token, err := NewService("one", 5).GenerateToken(9, nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := NewService("two", 5).ParseToken(token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{UserID: 9}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewService("secret", 5).ParseToken(token); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}
