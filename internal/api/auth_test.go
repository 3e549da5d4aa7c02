package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseToken(t *testing.T) {
	valid, err := IssueToken(testSecret, "ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", valid, false},
		{"expired", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "ops", ExpiresAt: past}), true},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "ops"}), true},
		{"no subject", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{ExpiresAt: future}), true},
		{"alg none", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}), true},
		{"garbage", "not-a-token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseToken(tt.token, testSecret)
			if tt.wantErr {
				if !errors.Is(err, ErrTokenInvalid) {
					t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
				}
				return
			}
			if err != nil || claims.Subject != "ops" || claims.Issuer != "accessd" {
				t.Errorf("ParseToken() = %+v, %v", claims, err)
			}
		})
	}
}

func TestIssueToken_RequiresSubject(t *testing.T) {
	if _, err := IssueToken(testSecret, "", time.Minute); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("IssueToken() error = %v", err)
	}
}
