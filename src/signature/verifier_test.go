package signature

import (
	"net/http"
	"testing"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
)

const testSecret = "super-secret"

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestVerify_GitHubValidSignature(t *testing.T) {
	v := New(testSecret, false)
	body := []byte(`{"action":"completed"}`)

	res := v.Verify(headers(HeaderGitHub, Sign(body, testSecret)), body)

	if res.Provider != contracts.ProviderGitHub {
		t.Errorf("provider = %v, want github", res.Provider)
	}
	if !res.Valid {
		t.Error("Valid = false, want true")
	}
}

func TestVerify_GitHubInvalidSignatures(t *testing.T) {
	v := New(testSecret, false)
	body := []byte(`{"action":"completed"}`)
	good := Sign(body, testSecret)

	// Flip one hex digit of the valid signature.
	flipped := []byte(good)
	last := len(flipped) - 1
	if flipped[last] == '0' {
		flipped[last] = '1'
	} else {
		flipped[last] = '0'
	}

	tests := []struct {
		name string
		sig  string
	}{
		{"one byte flipped", string(flipped)},
		{"wrong secret", Sign(body, "other-secret")},
		{"truncated digest", good[:len(good)-10]},
		{"odd length hex", good[:len(good)-1]},
		{"not hex", "sha256=zzzz"},
		{"missing prefix", good[len("sha256="):]},
		{"empty value after prefix", "sha256="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(headers(HeaderGitHub, tt.sig), body)
			if res.Provider != contracts.ProviderGitHub {
				t.Errorf("provider = %v, want github", res.Provider)
			}
			if res.Valid {
				t.Error("Valid = true, want false")
			}
		})
	}
}

func TestVerify_GitHubNoSecretConfigured(t *testing.T) {
	v := New("", false)
	body := []byte(`{}`)

	res := v.Verify(headers(HeaderGitHub, Sign(body, "")), body)
	if res.Valid {
		t.Error("Valid = true with empty secret, want false")
	}
}

func TestVerify_GitLabToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"matching token", testSecret, true},
		{"wrong token", "nope", false},
		{"wrong token same length", "super-secreX", false},
		{"longer token", testSecret + "x", false},
	}

	v := New(testSecret, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(headers(HeaderGitLab, tt.token), []byte(`{}`))
			if res.Provider != contracts.ProviderGitLab {
				t.Errorf("provider = %v, want gitlab", res.Provider)
			}
			if res.Valid != tt.want {
				t.Errorf("Valid = %v, want %v", res.Valid, tt.want)
			}
		})
	}
}

func TestVerify_Unsigned(t *testing.T) {
	body := []byte(`{}`)

	strict := New(testSecret, false).Verify(http.Header{}, body)
	if strict.Provider != contracts.ProviderUnknown || strict.Valid || !strict.Unsigned {
		t.Errorf("strict unsigned = %+v, want unknown/invalid/unsigned", strict)
	}

	permissive := New(testSecret, true).Verify(http.Header{}, body)
	if !permissive.Valid || !permissive.Unsigned {
		t.Errorf("permissive unsigned = %+v, want valid", permissive)
	}
}

func TestVerify_GitHubHeaderWinsOverGitLab(t *testing.T) {
	v := New(testSecret, false)
	body := []byte(`{}`)
	h := headers(HeaderGitHub, Sign(body, testSecret), HeaderGitLab, testSecret)

	res := v.Verify(h, body)
	if res.Provider != contracts.ProviderGitHub {
		t.Errorf("provider = %v, want github", res.Provider)
	}
}
