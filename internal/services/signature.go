package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
)

var signatureHeaders = []string{"X-Signature", "X-Eversend-Signature"}

// SignatureVerifier checks the HMAC-SHA256 of webhook bodies.
type SignatureVerifier struct {
	secret   []byte
	failOpen bool
}

func NewSignatureVerifier(secret string, failOpen bool) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), failOpen: failOpen}
}

// Sign returns the hex digest the provider is expected to send.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify returns ErrSignature unless the header matches the body. With no
// secret configured the result depends on failOpen.
func (v *SignatureVerifier) Verify(body []byte, headers http.Header) error {
	if len(v.secret) == 0 {
		if v.failOpen {
			log.Printf("[WEBHOOK] WARNING: no webhook secret configured, accepting unsigned callback")
			return nil
		}
		log.Printf("[WEBHOOK] no webhook secret configured, rejecting callback")
		return ErrSignature
	}

	var provided string
	for _, h := range signatureHeaders {
		if provided = strings.TrimSpace(headers.Get(h)); provided != "" {
			break
		}
	}
	if provided == "" {
		return ErrSignature
	}
	provided = strings.TrimPrefix(provided, "sha256=")

	got, err := hex.DecodeString(provided)
	if err != nil {
		return ErrSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignature
	}
	return nil
}
