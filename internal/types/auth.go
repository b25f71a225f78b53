package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"timelock.mini/tlm/internal/identity"
)

// Headers carried by a signed HTTP request.
const (
	HeaderPublicKey = "X-TLM-Public-Key"
	HeaderTimestamp = "X-TLM-Timestamp"
	HeaderSignature = "X-TLM-Signature"
)

var (
	// ErrUnsigned means a request carries no signature headers.
	ErrUnsigned = errors.New("request is not signed")
	// ErrBadRequestSignature covers malformed, stale or forged signatures.
	ErrBadRequestSignature = errors.New("invalid request signature")
)

// RequestMessage is the byte string signed for a request: the method, the
// request URI (path and query) and the millisecond timestamp, one per line.
func RequestMessage(method, requestURI string, ts int64) []byte {
	return []byte(method + "\n" + requestURI + "\n" + strconv.FormatInt(ts, 10))
}

// SignRequest sets the signature headers on req for id.
func SignRequest(req *http.Request, id *identity.Identity, now time.Time) {
	ts := now.UnixMilli()
	req.Header.Set(HeaderPublicKey, identity.PublicKeyHex(id.PublicKey()))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, hex.EncodeToString(id.Sign(RequestMessage(req.Method, req.URL.RequestURI(), ts))))
}

// VerifyRequest checks the signature headers of req and returns the signing
// account. The timestamp must be within maxSkew of now.
func VerifyRequest(req *http.Request, now time.Time, maxSkew time.Duration) (AccountID, error) {
	pubHex := req.Header.Get(HeaderPublicKey)
	tsRaw := req.Header.Get(HeaderTimestamp)
	sigHex := req.Header.Get(HeaderSignature)
	if pubHex == "" && tsRaw == "" && sigHex == "" {
		return "", ErrUnsigned
	}

	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return "", fmt.Errorf("%w: public key is not hex", ErrBadRequestSignature)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("%w: signature is not hex", ErrBadRequestSignature)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad timestamp", ErrBadRequestSignature)
	}
	if skew := now.Sub(time.UnixMilli(ts)); skew > maxSkew || skew < -maxSkew {
		return "", fmt.Errorf("%w: timestamp outside %s window", ErrBadRequestSignature, maxSkew)
	}
	if !identity.VerifySignature(pub, RequestMessage(req.Method, req.URL.RequestURI(), ts), sig) {
		return "", ErrBadRequestSignature
	}
	return AccountID(identity.PublicKeyHex(pub)), nil
}
