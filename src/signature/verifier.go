// Package signature classifies inbound webhook requests by CI provider and
// validates their authenticity.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/MohamedLahlami/SafeOps/src/contracts"
)

// Request signature headers, per provider convention.
const (
	// HeaderGitHub carries "sha256=<hex>" computed over the raw body.
	HeaderGitHub = "X-Hub-Signature-256"
	// HeaderGitLab carries the pre-shared token verbatim.
	HeaderGitLab = "X-Gitlab-Token"
)

// Result is the classification outcome for one request.
type Result struct {
	Provider contracts.Provider
	Valid    bool
	// Unsigned is true when no recognised signature header was present.
	Unsigned bool
}

// Verifier validates webhook signatures against a shared secret. It only
// classifies; enforcement (rejecting invalid requests) is a gateway policy.
type Verifier struct {
	secret string
	// permissive accepts unsigned requests, for development and synthetic
	// testing. Never enable in production.
	permissive bool
}

// New creates a Verifier. When permissive is true, requests without any
// signature header are accepted as valid.
func New(secret string, permissive bool) *Verifier {
	return &Verifier{secret: secret, permissive: permissive}
}

// Verify inspects the request headers and raw body bytes, returning the
// provider classification and signature validity. It never rejects or
// panics; malformed or length-mismatched signatures simply come back false.
func (v *Verifier) Verify(header http.Header, body []byte) Result {
	if sig := header.Get(HeaderGitHub); sig != "" {
		return Result{
			Provider: contracts.ProviderGitHub,
			Valid:    v.verifyHMAC(body, sig),
		}
	}

	if token := header.Get(HeaderGitLab); token != "" {
		return Result{
			Provider: contracts.ProviderGitLab,
			Valid:    v.verifyToken(token),
		}
	}

	return Result{
		Provider: contracts.ProviderUnknown,
		Valid:    v.permissive,
		Unsigned: true,
	}
}

// verifyHMAC checks a GitHub-style "sha256=<hex>" signature over the exact
// raw body bytes.
func (v *Verifier) verifyHMAC(body []byte, signature string) bool {
	if v.secret == "" {
		return false
	}

	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}

	presented, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	// hmac.Equal is constant-time and safely reports false on length
	// mismatch rather than reading out of bounds.
	return hmac.Equal(presented, expected)
}

// verifyToken checks the GitLab pre-shared token by equality. The length
// guard keeps the constant-time comparison meaningful.
func (v *Verifier) verifyToken(token string) bool {
	if v.secret == "" {
		return false
	}
	if len(token) != len(v.secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.secret)) == 1
}

// Sign computes the GitHub-format signature for a body. Used by tests and
// synthetic traffic generators.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
