package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Signing Key Generation
// =============================================================================

// GetSigningKey derives the signing key for AWS v4 signatures.
// This implements the key derivation: HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), service), "aws4_request")
func GetSigningKey(secretKey string, date time.Time, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(date.Format(YYYYMMDD)))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(AWS4Request))
}

// GetSignature calculates the signature using the signing key.
func GetSignature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

// hmacSHA256 computes HMAC-SHA256.
func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// sha256Hex returns the lowercase hex SHA-256 of data.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// Canonicalization
// =============================================================================

// uriEncode percent-encodes per the SigV4 rules: unreserved characters
// (A-Z a-z 0-9 - . _ ~) pass through, everything else is %XX uppercase hex.
// The path form leaves "/" intact.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte('/')
		default:
			const hexDigits = "0123456789ABCDEF"
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xf])
		}
	}
	return b.String()
}

// getCanonicalURI returns the URI-encoded path.
// S3 signs the decoded path encoded exactly once, with "/" preserved.
func getCanonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	return uriEncode(path, false)
}

// getCanonicalQueryString returns the sorted, URI-encoded query string.
// X-Amz-Signature is excluded so presigned verification can reuse this.
func getCanonicalQueryString(query url.Values) string {
	delete(query, XAmzSignatureHeader)

	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var pairs []string
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, value := range values {
			pairs = append(pairs, uriEncode(key, true)+"="+uriEncode(value, true))
		}
	}

	return strings.Join(pairs, "&")
}

// getCanonicalHeaders builds the canonical headers string for the given
// signed header set. Host and Content-Length are special-cased because Go's
// http server stores them outside the header map.
func getCanonicalHeaders(r *http.Request, signedHeaders []string) string {
	var canonical strings.Builder

	for _, header := range signedHeaders {
		lower := strings.ToLower(header)

		var value string
		switch lower {
		case "host":
			value = r.Host
		case "content-length":
			if r.ContentLength >= 0 {
				value = strconv.FormatInt(r.ContentLength, 10)
			}
			if v := r.Header.Get("Content-Length"); v != "" {
				value = v
			}
		default:
			value = strings.Join(r.Header.Values(header), ",")
		}

		value = strings.TrimSpace(value)
		value = strings.Join(strings.Fields(value), " ")

		canonical.WriteString(lower)
		canonical.WriteString(":")
		canonical.WriteString(value)
		canonical.WriteString("\n")
	}

	return canonical.String()
}

// GetCanonicalRequest builds the canonical request string for signing.
func GetCanonicalRequest(r *http.Request, signedHeaders []string, payloadHash string) string {
	lowered := make([]string, len(signedHeaders))
	for i, h := range signedHeaders {
		lowered[i] = strings.ToLower(h)
	}

	return r.Method + "\n" +
		getCanonicalURI(r.URL.Path) + "\n" +
		getCanonicalQueryString(r.URL.Query()) + "\n" +
		getCanonicalHeaders(r, lowered) + "\n" +
		strings.Join(lowered, ";") + "\n" +
		payloadHash
}

// GetStringToSign builds the string to sign from a canonical request.
func GetStringToSign(canonicalRequest string, requestTime time.Time, scope CredentialScope) string {
	return SignV4Algorithm + "\n" +
		requestTime.UTC().Format(ISO8601BasicFormat) + "\n" +
		scope.String() + "\n" +
		sha256Hex([]byte(canonicalRequest))
}

// =============================================================================
// Signature Verification
// =============================================================================

// VerifySignature recomputes the request signature and compares it to the
// presented one. Returns ErrSignatureDoesNotMatch on inequality.
func VerifySignature(r *http.Request, secretKey string, authz *Authorization, payloadHash string, requestTime time.Time) error {
	canonicalRequest := GetCanonicalRequest(r, authz.SignedHeaders, payloadHash)
	stringToSign := GetStringToSign(canonicalRequest, requestTime, authz.Credential.Scope)

	signingKey := GetSigningKey(
		secretKey,
		authz.Credential.Scope.Date,
		authz.Credential.Scope.Region,
		authz.Credential.Scope.Service,
	)

	expected := GetSignature(signingKey, stringToSign)

	if !hmac.Equal([]byte(expected), []byte(authz.Signature)) {
		return ErrSignatureDoesNotMatch
	}

	return nil
}

// =============================================================================
// Content Hash Extraction
// =============================================================================

// GetPayloadHash extracts the payload hash marker from a request.
func GetPayloadHash(r *http.Request) string {
	if hash := r.Header.Get(XAmzContentSHA256Header); hash != "" {
		return hash
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodDelete {
		return EmptyStringSHA256
	}

	return UnsignedPayload
}

// =============================================================================
// Time Validation
// =============================================================================

// ValidateRequestTime checks that the request time is within the allowed
// clock-drift window of now, in either direction. Future-dated requests are
// rejected the same as stale ones.
func ValidateRequestTime(requestTime, now time.Time, maxSkew time.Duration) error {
	skew := now.Sub(requestTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return ErrRequestExpired
	}
	return nil
}

// ValidatePresignedWindow checks that now falls inside the presigned URL's
// validity window [signed time, signed time + expires].
func ValidatePresignedWindow(requestTime, now time.Time, expiresSeconds int64, maxSkew time.Duration) error {
	if requestTime.After(now.Add(maxSkew)) {
		return ErrRequestExpired
	}
	if now.After(requestTime.Add(time.Duration(expiresSeconds) * time.Second)) {
		return ErrPresignedURLExpired
	}
	return nil
}
