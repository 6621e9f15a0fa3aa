package proxy

import (
	"net/http"
	"strings"

	"github.com/prn-tf/alexander-gateway/internal/auth"
)

// Headers never forwarded upstream. Authorization and date material is
// recomputed at signing time; invocation IDs belong to one hop only.
var strippedHeaders = map[string]struct{}{
	"Authorization":        {},
	"Host":                 {},
	"X-Amz-Date":           {},
	"X-Amz-Security-Token": {},
	"Amz-Sdk-Invocation-Id": {},
	"Amz-Sdk-Request":       {},
	"X-Amz-Request-Id":      {},
	"X-Amzn-Trace-Id":       {},
	"Connection":            {},
	"Proxy-Connection":      {},
	"Keep-Alive":            {},
	"Transfer-Encoding":     {},
	"Te":                    {},
	"Trailer":               {},
	"Upgrade":               {},
	"Expect":                {},
}

// OutboundHeaders copies inbound headers for the upstream request, dropping
// hop-by-hop and recomputed headers. When decodeTransport is set the body is
// forwarded decoded, so the wire framing headers describing the aws-chunked
// envelope are dropped too.
func OutboundHeaders(in http.Header, decodeTransport bool) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		canonical := http.CanonicalHeaderKey(name)
		if _, drop := strippedHeaders[canonical]; drop {
			continue
		}
		if decodeTransport {
			switch canonical {
			case "Content-Length", "Content-Encoding",
				http.CanonicalHeaderKey(auth.XAmzDecodedContentLengthHeader),
				http.CanonicalHeaderKey(auth.XAmzContentSHA256Header):
				continue
			}
		}
		out[canonical] = append([]string(nil), values...)
	}

	// An aws-chunked Content-Encoding may stack with a real encoding,
	// as in "aws-chunked,gzip"; only the framing part is consumed here.
	if decodeTransport {
		if enc := in.Get("Content-Encoding"); enc != "" {
			var kept []string
			for _, part := range strings.Split(enc, ",") {
				part = strings.TrimSpace(part)
				if part != "" && !strings.EqualFold(part, auth.AWSChunkedEncoding) {
					kept = append(kept, part)
				}
			}
			if len(kept) > 0 {
				out.Set("Content-Encoding", strings.Join(kept, ","))
			}
		}
	}

	return out
}
