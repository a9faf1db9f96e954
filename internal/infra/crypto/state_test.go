package crypto

import (
	"errors"
	"strings"
	"testing"
	"time"

	"postline/internal/domain"
)

func newTestSigner(t *testing.T) *StateSigner {
	t.Helper()
	s, err := NewStateSigner("test-secret")
	if err != nil {
		t.Fatalf("не ожидали ошибку создания подписанта: %v", err)
	}
	return s
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	token, err := s.Issue(StateClaims{UserID: 7, ClientID: 3, Platform: domain.PlatformLinkedIn})
	if err != nil {
		t.Fatalf("не ожидали ошибку выпуска: %v", err)
	}
	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("не ожидали ошибку проверки: %v", err)
	}
	if claims.UserID != 7 || claims.ClientID != 3 || claims.Platform != domain.PlatformLinkedIn {
		t.Fatalf("контекст потерян: %+v", claims)
	}
	if claims.Nonce == "" {
		t.Fatalf("ожидали случайный nonce")
	}
}

func TestStateTamper(t *testing.T) {
	s := newTestSigner(t)
	token, _ := s.Issue(StateClaims{UserID: 7, ClientID: 3, Platform: domain.PlatformLinkedIn})
	payload, sig, _ := strings.Cut(token, ".")

	flip := func(in string) string {
		b := []byte(in)
		if b[0] == 'A' {
			b[0] = 'B'
		} else {
			b[0] = 'A'
		}
		return string(b)
	}

	for _, bad := range []string{flip(payload) + "." + sig, payload + "." + flip(sig), payload} {
		if _, err := s.Verify(bad); !errors.Is(err, ErrStateInvalid) {
			t.Fatalf("для %q ожидали ErrStateInvalid, получили %v", bad, err)
		}
	}
}

func TestStateExpired(t *testing.T) {
	s := newTestSigner(t)
	token, _ := s.Issue(StateClaims{UserID: 7, ClientID: 3, Platform: domain.PlatformLinkedIn})
	s.now = func() time.Time { return time.Now().Add(StateTTL + time.Minute) }
	if _, err := s.Verify(token); !errors.Is(err, ErrStateExpired) {
		t.Fatalf("ожидали ErrStateExpired, получили %v", err)
	}
}

func TestStateRequiresPKCE(t *testing.T) {
	s := newTestSigner(t)
	token, _ := s.Issue(StateClaims{UserID: 7, ClientID: 3, Platform: domain.PlatformTwitter})
	if _, err := s.Verify(token); !errors.Is(err, ErrStateNoPKCE) {
		t.Fatalf("ожидали ErrStateNoPKCE без verifier, получили %v", err)
	}

	verifier, err := NewCodeVerifier()
	if err != nil {
		t.Fatalf("не ожидали ошибку генерации verifier: %v", err)
	}
	token, _ = s.Issue(StateClaims{UserID: 7, ClientID: 3, Platform: domain.PlatformTwitter, CodeVerifier: verifier})
	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("не ожидали ошибку проверки: %v", err)
	}
	if claims.CodeVerifier != verifier {
		t.Fatalf("verifier потерян при round-trip")
	}
}

func TestCodeChallengeS256(t *testing.T) {
	// Контрольный вектор из RFC 7636, приложение B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := CodeChallengeS256(verifier)
	if challenge != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Fatalf("неверный challenge: %s", challenge)
	}
}

func TestCodeVerifierEntropy(t *testing.T) {
	a, _ := NewCodeVerifier()
	b, _ := NewCodeVerifier()
	if a == b {
		t.Fatalf("ожидали уникальные verifier")
	}
	if len(a) < 43 {
		t.Fatalf("verifier короче минимума RFC 7636: %d", len(a))
	}
}
