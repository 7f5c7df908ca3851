// Package httpsig implements the draft-cavage-http-signatures engine
// used to sign outbound federation requests and verify inbound ones,
// on top of github.com/go-fed/httpsig.
package httpsig

import (
	"context"
	"crypto/rsa"
	"net/http"
	"time"

	"github.com/deemkeen/apforge/apforgeerr"
	"github.com/deemkeen/apforge/keystore"
	gofedhttpsig "github.com/go-fed/httpsig"
)

// signedHeaders is the outbound signed header list, in order.
var signedHeaders = []string{
	gofedhttpsig.RequestTarget, "host", "date", "digest", "content-type",
}

// maxDateSkew is the inbound signature date-skew tolerance.
const maxDateSkew = 300 * time.Second

// PublicKeyResolver resolves a keyId (as carried in the Signature
// header) to the signer's RSA public key.
type PublicKeyResolver interface {
	GetPublicKeyPem(ctx context.Context, keyId string) (string, error)
}

// Sign signs req (whose body is exactly the bytes in body) with
// privateKey under keyId, adding Digest, Date, Host, and Signature
// headers. req.Body is neither read nor modified; callers set the
// request body separately for transmission.
func Sign(req *http.Request, keyId string, privateKey *rsa.PrivateKey, body []byte) error {
	signer, _, err := gofedhttpsig.NewSigner(
		[]gofedhttpsig.Algorithm{gofedhttpsig.RSA_SHA256},
		gofedhttpsig.DigestSha256,
		signedHeaders,
		gofedhttpsig.Signature,
		0,
	)
	if err != nil {
		return apforgeerr.Internal("constructing http signer", err)
	}

	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	if err := signer.SignRequest(privateKey, keyId, req, body); err != nil {
		return apforgeerr.Internal("signing request", err)
	}
	return nil
}

// Verify checks the Signature and Digest headers on req against body
// (the exact received raw body bytes), resolving the signer's public
// key via resolver. Returns the verified keyId on success.
func Verify(ctx context.Context, req *http.Request, body []byte, resolver PublicKeyResolver) (string, error) {
	dateHeader := req.Header.Get("Date")
	if dateHeader == "" {
		return "", apforgeerr.Unauthorized("missing Date header", nil)
	}
	sigDate, err := http.ParseTime(dateHeader)
	if err != nil {
		return "", apforgeerr.Unauthorized("unparseable Date header", err)
	}
	skew := time.Since(sigDate)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxDateSkew {
		return "", apforgeerr.Unauthorized("stale signature: date skew exceeds 300s", nil)
	}

	digestHeader := req.Header.Get("Digest")
	if digestHeader == "" {
		return "", apforgeerr.BadRequest("missing Digest header", nil)
	}
	if digestHeader != keystore.Digest(body) {
		return "", apforgeerr.Unauthorized("digest does not match received body", nil)
	}

	verifier, err := gofedhttpsig.NewVerifier(req)
	if err != nil {
		return "", apforgeerr.BadRequest("missing or malformed Signature header", err)
	}

	keyId := verifier.KeyId()
	if keyId == "" {
		return "", apforgeerr.BadRequest("signature missing keyId", nil)
	}

	pubKeyPem, err := resolver.GetPublicKeyPem(ctx, keyId)
	if err != nil {
		return "", err
	}

	pubKey, err := parsePKIXPublicKey(pubKeyPem)
	if err != nil {
		return "", apforgeerr.Internal("parsing resolved public key", err)
	}

	algo := gofedhttpsig.RSA_SHA256
	if err := verifier.Verify(pubKey, algo); err != nil {
		return "", apforgeerr.Unauthorized("signature verification failed", err)
	}

	return keyId, nil
}
