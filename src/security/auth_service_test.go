package security

import (
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	token, err := svc.GenerateToken("user-1", "cus_1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	userID, customerID, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if userID != "user-1" || customerID != "cus_1" {
		t.Fatalf("got (%q, %q), want (user-1, cus_1)", userID, customerID)
	}
}

func TestTokenWithoutCustomerID(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef")
	token, err := svc.GenerateToken("user-1", "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	_, customerID, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if customerID != "" {
		t.Fatalf("customer id = %q, want empty before registration", customerID)
	}
}

func TestValidateTokenRejections(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	expired, err := svc.GenerateToken("user-1", "", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, _, err := svc.ValidateToken(expired); err == nil {
		t.Errorf("expired token accepted")
	}

	other := NewAuthService("another-secret-that-is-long-enough!!")
	foreign, err := other.GenerateToken("user-1", "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, _, err := svc.ValidateToken(foreign); err == nil {
		t.Errorf("token signed with a different secret accepted")
	}

	if _, _, err := svc.ValidateToken("not.a.token"); err == nil {
		t.Errorf("garbage token accepted")
	}

	// Tampered payload fails signature verification.
	valid, _ := svc.GenerateToken("user-1", "", time.Hour)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, _, err := svc.ValidateToken(tampered); err == nil {
		t.Errorf("tampered token accepted")
	}
}
