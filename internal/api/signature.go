package api

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the provider's base64 RSA-SHA256 signature of the raw body.
const SignatureHeader = "X-Signature-SHA256"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignatureVerifier checks Wise webhook signatures against the provider public key.
type SignatureVerifier struct {
	key *rsa.PublicKey
}

// NewSignatureVerifier parses a PEM encoded RSA public key (PKIX or PKCS#1).
func NewSignatureVerifier(publicKeyPEM string) (*SignatureVerifier, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(publicKeyPEM)))
	if block == nil {
		return nil, errors.New("webhook public key is not PEM encoded")
	}

	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("webhook public key is %T, want RSA", parsed)
		}
		return &SignatureVerifier{key: key}, nil
	}

	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse webhook public key: %w", err)
	}
	return &SignatureVerifier{key: key}, nil
}

func (v *SignatureVerifier) Verify(signature string, body []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrInvalidSignature
	}
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	digest := sha256.Sum256(body)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], raw); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
