package handler

import (
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/auth"
	"github.com/prn-tf/alexander-gateway/internal/service"
)

// STSHandler serves the token surface. Requests reach it already
// authenticated with service scope "sts".
type STSHandler struct {
	sts    *service.STSService
	logger zerolog.Logger
}

// NewSTSHandler creates a new STSHandler.
func NewSTSHandler(sts *service.STSService, logger zerolog.Logger) *STSHandler {
	return &STSHandler{
		sts:    sts,
		logger: logger.With().Str("handler", "sts").Logger(),
	}
}

// =============================================================================
// Response Types
// =============================================================================

type assumeRoleResponse struct {
	XMLName xml.Name         `xml:"AssumeRoleResponse"`
	Xmlns   string           `xml:"xmlns,attr"`
	Result  assumeRoleResult `xml:"AssumeRoleResult"`
	Meta    responseMetadata `xml:"ResponseMetadata"`
}

type assumeRoleResult struct {
	Credentials stsCredentials `xml:"Credentials"`
}

type stsCredentials struct {
	AccessKeyID     string `xml:"AccessKeyId"`
	SecretAccessKey string `xml:"SecretAccessKey"`
	SessionToken    string `xml:"SessionToken"`
	Expiration      string `xml:"Expiration"`
}

type responseMetadata struct {
	RequestID string `xml:"RequestId"`
}

type stsErrorResponse struct {
	XMLName   xml.Name `xml:"ErrorResponse"`
	Code      string   `xml:"Error>Code"`
	Message   string   `xml:"Error>Message"`
	RequestID string   `xml:"RequestId"`
}

// =============================================================================
// Actions
// =============================================================================

// AssumeRole issues temporary credentials for the calling principal.
// Accepts the standard form parameters Action, DurationSeconds and
// RoleSessionName.
func (h *STSHandler) AssumeRole(w http.ResponseWriter, r *http.Request) {
	parsed := auth.RequestFromContext(r.Context())
	if parsed == nil {
		h.writeError(w, "", "InternalFailure", "request not authenticated", http.StatusInternalServerError)
		return
	}
	requestID := parsed.ID.String()

	if err := r.ParseForm(); err != nil {
		h.writeError(w, requestID, "MalformedInput", "unable to parse request parameters", http.StatusBadRequest)
		return
	}
	if action := r.Form.Get("Action"); action != "AssumeRole" {
		h.writeError(w, requestID, "InvalidAction", "unsupported action "+action, http.StatusBadRequest)
		return
	}

	var duration time.Duration
	if raw := r.Form.Get("DurationSeconds"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, requestID, "ValidationError", "DurationSeconds must be an integer", http.StatusBadRequest)
			return
		}
		duration = time.Duration(seconds) * time.Second
	}

	out, err := h.sts.AssumeRole(r.Context(), service.AssumeRoleInput{
		CallerAccessKey: parsed.AccessKey,
		RoleSessionName: r.Form.Get("RoleSessionName"),
		Duration:        duration,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDuration):
			h.writeError(w, requestID, "ValidationError", err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrMappingNotFound), errors.Is(err, service.ErrMappingInactive):
			h.writeError(w, requestID, "AccessDenied", "caller is not allowed to assume a role", http.StatusForbidden)
		default:
			h.logger.Error().Err(err).Str("request_id", requestID).Msg("assume role failed")
			h.writeError(w, requestID, "InternalFailure", "unable to issue credentials", http.StatusInternalServerError)
		}
		return
	}

	response := assumeRoleResponse{
		Xmlns: "https://sts.amazonaws.com/doc/2011-06-15/",
		Result: assumeRoleResult{
			Credentials: stsCredentials{
				AccessKeyID:     out.AccessKeyID,
				SecretAccessKey: out.SecretAccessKey,
				SessionToken:    out.SessionToken,
				Expiration:      out.Expiration.UTC().Format(time.RFC3339),
			},
		},
		Meta: responseMetadata{RequestID: requestID},
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode assume role response")
	}
}

func (h *STSHandler) writeError(w http.ResponseWriter, requestID, code, message string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(stsErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}
