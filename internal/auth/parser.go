package auth

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Authorization Header Parsing
// =============================================================================

// Regular expressions for parsing AWS v4 authorization header
var (
	// credentialRegex matches Credential=accessKey/date/region/service/aws4_request
	credentialRegex = regexp.MustCompile(`Credential=([^/,\s]+)/(\d{8})/([^/,\s]+)/([^/,\s]+)/aws4_request`)

	// signedHeadersRegex matches SignedHeaders=header1;header2;header3
	signedHeadersRegex = regexp.MustCompile(`SignedHeaders=([^,\s]+)`)

	// signatureRegex matches Signature=hexstring
	signatureRegex = regexp.MustCompile(`Signature=([a-f0-9]{64})`)
)

// GetAuthType determines the authentication type from a request.
func GetAuthType(r *http.Request) AuthType {
	authHeader := r.Header.Get(AuthorizationHeader)

	if authHeader != "" {
		if strings.HasPrefix(authHeader, SignV4Algorithm) {
			return AuthTypeSignedV4
		}
		return AuthTypeUnknown
	}

	if r.URL.Query().Get(XAmzAlgorithmHeader) == SignV4Algorithm {
		return AuthTypePresignedV4
	}

	return AuthTypeAnonymous
}

// ParseSignV4 parses an AWS v4 Authorization header.
// Format: AWS4-HMAC-SHA256 Credential=access_key/date/region/service/aws4_request, SignedHeaders=..., Signature=...
// The session token, if any, travels in the X-Amz-Security-Token header and
// is attached by the caller.
func ParseSignV4(authHeader string) (*Authorization, error) {
	if !strings.HasPrefix(authHeader, SignV4Algorithm) {
		return nil, ErrInvalidAuthorizationHeader
	}

	credentialMatch := credentialRegex.FindStringSubmatch(authHeader)
	if credentialMatch == nil || len(credentialMatch) < 5 {
		return nil, fmt.Errorf("%w: invalid credential format", ErrInvalidAuthorizationHeader)
	}

	date, err := time.Parse(YYYYMMDD, credentialMatch[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date in credential", ErrInvalidAuthorizationHeader)
	}

	signedHeadersMatch := signedHeadersRegex.FindStringSubmatch(authHeader)
	if signedHeadersMatch == nil || len(signedHeadersMatch) < 2 {
		return nil, fmt.Errorf("%w: missing signed headers", ErrInvalidAuthorizationHeader)
	}
	signedHeaders := strings.Split(signedHeadersMatch[1], ";")
	if len(signedHeaders) == 0 || signedHeaders[0] == "" {
		return nil, fmt.Errorf("%w: empty signed headers", ErrInvalidAuthorizationHeader)
	}

	// Signed headers must arrive sorted; the canonical form depends on it.
	sortedHeaders := make([]string, len(signedHeaders))
	copy(sortedHeaders, signedHeaders)
	sort.Strings(sortedHeaders)
	for i, h := range signedHeaders {
		if h != sortedHeaders[i] {
			return nil, fmt.Errorf("%w: signed headers not sorted", ErrInvalidAuthorizationHeader)
		}
	}

	signatureMatch := signatureRegex.FindStringSubmatch(authHeader)
	if signatureMatch == nil || len(signatureMatch) < 2 {
		return nil, fmt.Errorf("%w: missing or invalid signature", ErrInvalidAuthorizationHeader)
	}

	return &Authorization{
		Credential: CredentialHeader{
			AccessKey: credentialMatch[1],
			Scope: CredentialScope{
				Date:    date,
				Region:  credentialMatch[3],
				Service: credentialMatch[4],
			},
		},
		SignedHeaders: signedHeaders,
		Signature:     signatureMatch[1],
	}, nil
}

// ParsePresignedV4 parses presigned URL query parameters.
func ParsePresignedV4(r *http.Request) (*Authorization, error) {
	query := r.URL.Query()

	if query.Get(XAmzAlgorithmHeader) != SignV4Algorithm {
		return nil, ErrInvalidPresignedURL
	}

	credential := query.Get(XAmzCredentialHeader)
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrInvalidPresignedURL)
	}

	parts := strings.Split(credential, "/")
	if len(parts) != 5 || parts[4] != AWS4Request {
		return nil, fmt.Errorf("%w: invalid credential format", ErrInvalidPresignedURL)
	}

	date, err := time.Parse(YYYYMMDD, parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date in credential", ErrInvalidPresignedURL)
	}

	signedHeadersStr := query.Get(XAmzSignedHeadersHeader)
	var signedHeaders []string
	if signedHeadersStr != "" {
		signedHeaders = strings.Split(signedHeadersStr, ";")
	}

	signature := strings.ToLower(query.Get(XAmzSignatureHeader))
	if len(signature) != 64 {
		return nil, fmt.Errorf("%w: missing or invalid signature", ErrInvalidPresignedURL)
	}

	expiresStr := query.Get(XAmzExpiresHeader)
	if expiresStr == "" {
		return nil, fmt.Errorf("%w: missing expires", ErrInvalidPresignedURL)
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil || expires <= 0 {
		return nil, fmt.Errorf("%w: invalid expires value", ErrInvalidPresignedURL)
	}
	if time.Duration(expires)*time.Second > PresignedURLMaxExpiry {
		return nil, fmt.Errorf("%w: expires exceeds maximum", ErrInvalidPresignedURL)
	}

	return &Authorization{
		Credential: CredentialHeader{
			AccessKey: parts[0],
			Scope: CredentialScope{
				Date:    date,
				Region:  parts[2],
				Service: parts[3],
			},
		},
		SignedHeaders: signedHeaders,
		Signature:     signature,
		SessionToken:  query.Get(XAmzSecurityTokenHeader),
		ExpiresIn:     expires,
	}, nil
}

// GetRequestTime extracts the request time from headers or query parameters.
func GetRequestTime(r *http.Request) (time.Time, error) {
	if dateStr := r.Header.Get(XAmzDateHeader); dateStr != "" {
		return time.Parse(ISO8601BasicFormat, dateStr)
	}

	// Presigned URLs carry the date in the query.
	if dateStr := r.URL.Query().Get(XAmzDateHeader); dateStr != "" {
		return time.Parse(ISO8601BasicFormat, dateStr)
	}

	if dateStr := r.Header.Get("Date"); dateStr != "" {
		return time.Parse(time.RFC1123, dateStr)
	}

	return time.Time{}, ErrMissingSecurityHeader
}
