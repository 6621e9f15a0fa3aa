package policy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-gateway/internal/domain"
)

func testRequest(accessKey, method, bucket, key string) *domain.ParsedS3Request {
	return &domain.ParsedS3Request{
		AccessKey: accessKey,
		Method:    method,
		Bucket:    bucket,
		Key:       key,
	}
}

func TestAllowAll(t *testing.T) {
	p := AllowAll{}
	require.Equal(t, Allow, p.Decide(testRequest("AKID", http.MethodDelete, "any", "any/key")))
}

func TestRulePolicyFirstMatchWins(t *testing.T) {
	p := NewRulePolicy([]Rule{
		{Methods: []string{http.MethodDelete}, Effect: Deny},
		{BucketPattern: "public-*", Effect: Allow},
	}, false)

	tests := []struct {
		name string
		req  *domain.ParsedS3Request
		want Decision
	}{
		{"delete denied even on public bucket", testRequest("AKID", http.MethodDelete, "public-data", "k"), Deny},
		{"get on public bucket allowed", testRequest("AKID", http.MethodGet, "public-data", "k"), Allow},
		{"get on private bucket falls to default deny", testRequest("AKID", http.MethodGet, "private", "k"), Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, p.Decide(tt.req))
		})
	}
}

func TestRulePolicyMatchFields(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		req  *domain.ParsedS3Request
		want Decision
	}{
		{
			"access key match",
			Rule{AccessKeys: []string{"AKIDALLOWED"}, Effect: Allow},
			testRequest("AKIDALLOWED", http.MethodGet, "b", "k"),
			Allow,
		},
		{
			"access key mismatch falls through",
			Rule{AccessKeys: []string{"AKIDALLOWED"}, Effect: Allow},
			testRequest("AKIDOTHER", http.MethodGet, "b", "k"),
			Deny,
		},
		{
			"key prefix match",
			Rule{KeyPrefix: "uploads/", Effect: Allow},
			testRequest("AKID", http.MethodPut, "b", "uploads/photo.jpg"),
			Allow,
		},
		{
			"key prefix mismatch falls through",
			Rule{KeyPrefix: "uploads/", Effect: Allow},
			testRequest("AKID", http.MethodPut, "b", "other/photo.jpg"),
			Deny,
		},
		{
			"bucket glob",
			Rule{BucketPattern: "team-?-data", Effect: Allow},
			testRequest("AKID", http.MethodGet, "team-a-data", "k"),
			Allow,
		},
		{
			"empty rule matches everything",
			Rule{Effect: Allow},
			testRequest("AKID", http.MethodGet, "b", "k"),
			Allow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRulePolicy([]Rule{tt.rule}, false)
			require.Equal(t, tt.want, p.Decide(tt.req))
		})
	}
}

func TestRulePolicyDefaultAllow(t *testing.T) {
	p := NewRulePolicy([]Rule{
		{BucketPattern: "restricted", Effect: Deny},
	}, true)

	require.Equal(t, Deny, p.Decide(testRequest("AKID", http.MethodGet, "restricted", "k")))
	require.Equal(t, Allow, p.Decide(testRequest("AKID", http.MethodGet, "open", "k")))
}
