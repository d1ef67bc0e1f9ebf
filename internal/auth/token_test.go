package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner([]byte("topsecret"), time.Hour)
	raw, expires, err := s.Issue("user-1", "Ada")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expiry %v is not in the future", expires)
	}
	claims, err := s.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID() != "user-1" || claims.Name != "Ada" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestSignerRejects(t *testing.T) {
	s := NewSigner([]byte("topsecret"), time.Hour)
	good, _, err := s.Issue("user-1", "")
	if err != nil {
		t.Fatal(err)
	}

	other := NewSigner([]byte("different"), time.Hour)
	if _, err := other.Verify(good); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret error = %v", err)
	}

	expired := NewSigner([]byte("topsecret"), time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, _ := expired.Issue("user-1", "")
	if _, err := s.Verify(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token error = %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	hs512, _ := none.SignedString([]byte("topsecret"))
	if _, err := s.Verify(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unexpected algorithm error = %v", err)
	}

	if _, err := s.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage error = %v", err)
	}
	if _, _, err := s.Issue("", ""); err == nil {
		t.Fatal("empty user id accepted")
	}
}
