package proxy

import (
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/auth"
	"github.com/prn-tf/alexander-gateway/internal/domain"
	"github.com/prn-tf/alexander-gateway/internal/policy"
)

// PresignHeaderPrefix prefixes the per-method presigned URL response
// headers, e.g. X-Gateway-Presign-Get.
const PresignHeaderPrefix = "X-Gateway-Presign-"

// presignMethods are the verbs presigned URLs are offered for.
var presignMethods = []string{"GET", "PUT", "POST", "DELETE"}

// Presigner generates remote presigned URLs for the methods the policy
// allows on a request's bucket and key. Cooperating clients use these to
// move bulk data directly against the backend.
type Presigner struct {
	policy   policy.Policy
	endpoint *url.URL
	region   string
	expiry   time.Duration
	logger   zerolog.Logger
}

// NewPresigner creates a presigner. expiry must be within the presigned
// URL bounds accepted by the signing engine.
func NewPresigner(pol policy.Policy, endpoint *url.URL, region string, expiry time.Duration, logger zerolog.Logger) *Presigner {
	return &Presigner{
		policy:   pol,
		endpoint: endpoint,
		region:   region,
		expiry:   expiry,
		logger:   logger.With().Str("component", "presigner").Logger(),
	}
}

// Generate returns remote presigned URLs keyed by HTTP method. Each
// candidate method is authorized against a copy of the request with only
// the verb swapped; denied methods are absent from the result.
func (p *Presigner) Generate(parsed *domain.ParsedS3Request, remote domain.Credential) map[string]string {
	now := time.Now().UTC()
	result := make(map[string]string, len(presignMethods))

	for _, method := range presignMethods {
		synthetic := parsed.WithMethod(method)
		if p.policy.Decide(synthetic) != policy.Allow {
			continue
		}

		presigned, err := auth.PresignURL(method, p.endpoint, parsed.RawPath, nil, remote, p.region, "s3", now, p.expiry)
		if err != nil {
			p.logger.Warn().Err(err).Str("method", method).Msg("presign failed")
			continue
		}
		result[method] = presigned.String()
	}

	return result
}

// wantsPresignHeaders reports whether a request's response should carry
// presigned URL headers: metadata-style reads of a concrete object.
func wantsPresignHeaders(parsed *domain.ParsedS3Request) bool {
	if parsed.Key == "" {
		return false
	}
	return parsed.Method == "HEAD" || parsed.Method == "GET"
}
