package registry

import (
	"encoding/json"
	"io"
	"net/http"

	wardenerrors "github.com/botwarden/warden/core/errors"
	"github.com/botwarden/warden/core/onboard"
)

const defaultMaxRequestBytes = 1 << 20

// Handler exposes the registry over HTTP: registration, manifest
// verification, and the public reputation read.
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", r.handleRegister)
	mux.HandleFunc("POST /api/verify", r.handleVerify)
	mux.HandleFunc("GET /api/reputation/{identity}", r.handleReputation)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request) {
	var body onboard.RegistrationRequest
	if !r.decodeBody(w, req, &body) {
		return
	}
	outcome, err := r.Register(req.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type verifyRequest struct {
	ManifestURL string `json:"manifest_url"`
	Pubkey      string `json:"pubkey"`
}

func (r *Registry) handleVerify(w http.ResponseWriter, req *http.Request) {
	var body verifyRequest
	if !r.decodeBody(w, req, &body) {
		return
	}
	result, err := r.Verify(req.Context(), body.ManifestURL, body.Pubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (r *Registry) handleReputation(w http.ResponseWriter, req *http.Request) {
	reputation, err := r.Reputation(req.Context(), req.PathValue("identity"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reputation)
}

func (r *Registry) decodeBody(w http.ResponseWriter, req *http.Request, into any) bool {
	limit := r.maxRequestBytes
	if limit <= 0 {
		limit = defaultMaxRequestBytes
	}
	raw, err := io.ReadAll(io.LimitReader(req.Body, limit))
	if err != nil {
		writeError(w, wardenerrors.Wrap(err, wardenerrors.CategoryMalformedInput,
			"unreadable_body", "request body could not be read", false))
		return false
	}
	if err := json.Unmarshal(raw, into); err != nil {
		writeError(w, wardenerrors.Wrap(err, wardenerrors.CategoryMalformedInput,
			"invalid_json", "request body must be valid JSON", false))
		return false
	}
	return true
}

type errorBody struct {
	Error     string `json:"error"`
	Category  string `json:"category"`
	Code      string `json:"code,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
}

func writeError(w http.ResponseWriter, err error) {
	category := wardenerrors.CategoryOf(err)
	writeJSON(w, statusFor(category), errorBody{
		Error:     err.Error(),
		Category:  string(category),
		Code:      wardenerrors.CodeOf(err),
		Hint:      wardenerrors.HintOf(err),
		Retryable: wardenerrors.RetryableOf(err),
	})
}

func statusFor(category wardenerrors.Category) int {
	switch category {
	case wardenerrors.CategoryMalformedInput:
		return http.StatusBadRequest
	case wardenerrors.CategoryConflictingState:
		return http.StatusConflict
	case wardenerrors.CategoryExpiredDeclaration,
		wardenerrors.CategoryCryptographic,
		wardenerrors.CategoryIntegrityViolation:
		return http.StatusUnprocessableEntity
	case wardenerrors.CategoryNetworkFailure:
		return http.StatusBadGateway
	case wardenerrors.CategoryServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
