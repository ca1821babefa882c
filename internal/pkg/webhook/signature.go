package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSecretNotConfigured = errors.New("webhook secret is not configured")
	ErrMissingSignature    = errors.New("missing signature header")
	ErrMalformedSignature  = errors.New("malformed signature header")
	ErrSignatureMismatch   = errors.New("no signature matches the payload")
	ErrStaleTimestamp      = errors.New("signature timestamp outside tolerance")
)

// Signature is the parsed `t=<unix>,v1=<sig>[,v1=<sig>]` header.
type Signature struct {
	Timestamp  int64
	Signatures []string
}

// Time returns the timestamp the provider claims to have signed at.
func (s *Signature) Time() time.Time {
	return time.Unix(s.Timestamp, 0)
}

// ParseSignatureHeader splits the header into its timestamp and v1 components.
// Unknown schemes (v0, ...) are ignored.
func ParseSignatureHeader(header string) (*Signature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingSignature
	}

	sig := &Signature{}
	hasTimestamp := false
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid timestamp %q", ErrMalformedSignature, value)
			}
			sig.Timestamp = ts
			hasTimestamp = true
		case "v1":
			if value != "" {
				sig.Signatures = append(sig.Signatures, value)
			}
		}
	}

	if !hasTimestamp {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedSignature)
	}
	if len(sig.Signatures) == 0 {
		return nil, fmt.Errorf("%w: no v1 signature", ErrMalformedSignature)
	}
	return sig, nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func ComputeSignature(secret string, timestamp int64, body []byte) string {
	return hex.EncodeToString(computeMAC([]byte(secret), timestamp, body))
}

// SignatureHeader builds a header value for the given payload, as the
// provider would send it.
func SignatureHeader(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(secret, timestamp, body))
}

// VerifySignature checks the header against body and secret. The timestamp
// must be within tolerance of now in either direction.
func VerifySignature(header string, body []byte, secret string, now time.Time, tolerance time.Duration) (*Signature, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretNotConfigured
	}

	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return nil, err
	}

	expected := computeMAC([]byte(secret), sig.Timestamp, body)
	matched := false
	for _, candidate := range sig.Signatures {
		decoded, ok := decodeSignature(candidate)
		if ok && hmac.Equal(decoded, expected) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrSignatureMismatch
	}

	skew := now.Sub(sig.Time())
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return nil, fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew.Truncate(time.Second))
	}
	return sig, nil
}

func computeMAC(secret []byte, timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// decodeSignature accepts hex or base64 (std or url alphabet) encodings.
func decodeSignature(value string) ([]byte, bool) {
	if b, err := hex.DecodeString(strings.ToLower(value)); err == nil {
		return b, true
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(value); err == nil {
			return b, true
		}
	}
	return nil, false
}
