package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/swaggo/swag"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
	Code  string `json:"code" example:"validation"`
}

// ConflictResponse is returned when a sync lease is already held
// @Description Sync conflict response with the states observed at rejection time
type ConflictResponse struct {
	ErrorResponse
	Held   []domain.ResourceType `json:"held"`
	States []*domain.SyncState   `json:"states"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// IssueAPIKeyRequest names a new API key
// @Description Issue API key request
type IssueAPIKeyRequest struct {
	Name string `json:"name" example:"ci"`
}

// IssueAPIKeyResponse carries the plaintext key, shown once
// @Description Newly issued API key
type IssueAPIKeyResponse struct {
	Key    string         `json:"key" example:"use_3f9c..."`
	APIKey *domain.APIKey `json:"apiKey"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the database and Redis connections
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  StatusResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := StatusResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.cfg.Version})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "openapi document not registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(doc))
}

// Onboarding

// handleRedeemOneTimeCode godoc
// @Summary      Redeem onboarding code
// @Description  Consumes a one-time code and returns a session scoped to its consent. The session is also set as a cookie.
// @Tags         Onboarding
// @Produce      json
// @Param        code  path      string  true  "One-time code"
// @Success      200   {object}  domain.SessionToken
// @Failure      404   {object}  ErrorResponse  "Unknown, used or expired code"
// @Router       /api/v1/onboarding/{code} [post]
func (s *Server) handleRedeemOneTimeCode(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Auth.RedeemOneTimeCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, session)
}

// Consent endpoints

// handleCreateConsent godoc
// @Summary      Create consent
// @Description  Creates a consent in the Created state
// @Tags         Consents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.CreateConsentRequest  true  "Consent"
// @Success      201      {object}  domain.Consent
// @Failure      400      {object}  ErrorResponse
// @Failure      403      {object}  ErrorResponse  "Consent limit reached"
// @Router       /api/v1/consents [post]
func (s *Server) handleCreateConsent(w http.ResponseWriter, r *http.Request) {
	var req driving.CreateConsentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	consent, err := s.svc.Consents.Create(r.Context(), IdentityFrom(r.Context()).TenantID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	setETag(w, consent.Etag)
	writeJSON(w, http.StatusCreated, consent)
}

// handleListConsents godoc
// @Summary      List consents
// @Tags         Consents
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  domain.Consent
// @Router       /api/v1/consents [get]
func (s *Server) handleListConsents(w http.ResponseWriter, r *http.Request) {
	consents, err := s.svc.Consents.List(r.Context(), IdentityFrom(r.Context()).TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if consents == nil {
		consents = []*domain.Consent{}
	}
	writeJSON(w, http.StatusOK, consents)
}

// handleGetConsent godoc
// @Summary      Get consent
// @Description  Returns the consent; the ETag header carries its current etag
// @Tags         Consents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Consent ID"
// @Success      200  {object}  domain.Consent
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/consents/{id} [get]
func (s *Server) handleGetConsent(w http.ResponseWriter, r *http.Request) {
	consent, err := s.svc.Consents.Get(r.Context(), IdentityFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	setETag(w, consent.Etag)
	writeJSON(w, http.StatusOK, consent)
}

// handleUpdateConsent godoc
// @Summary      Update consent
// @Description  Applies a partial update. When If-Match is sent it must equal the current etag.
// @Tags         Consents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id        path      string               true   "Consent ID"
// @Param        If-Match  header    string               false  "Current etag"
// @Param        request   body      domain.ConsentPatch  true   "Fields to change"
// @Success      200       {object}  domain.Consent
// @Failure      400       {object}  ErrorResponse
// @Failure      404       {object}  ErrorResponse
// @Failure      412       {object}  ErrorResponse  "Stale etag"
// @Router       /api/v1/consents/{id} [patch]
func (s *Server) handleUpdateConsent(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConsentPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	consent, err := s.svc.Consents.Update(r.Context(), IdentityFrom(r.Context()).TenantID,
		chi.URLParam(r, "id"), parseIfMatch(r.Header.Get("If-Match")), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	setETag(w, consent.Etag)
	writeJSON(w, http.StatusOK, consent)
}

// handleDeleteConsent godoc
// @Summary      Delete consent
// @Description  Revokes the provider token best-effort and removes everything the consent owns
// @Tags         Consents
// @Security     BearerAuth
// @Param        id   path  string  true  "Consent ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/consents/{id} [delete]
func (s *Server) handleDeleteConsent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Consents.Delete(r.Context(), IdentityFrom(r.Context()).TenantID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateOneTimeCode godoc
// @Summary      Issue onboarding code
// @Tags         Consents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Consent ID"
// @Success      201  {object}  domain.OneTimeCode
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/consents/{id}/one-time-codes [post]
func (s *Server) handleCreateOneTimeCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.svc.Consents.CreateOneTimeCode(r.Context(), IdentityFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

// Sync endpoints

// handleTriggerSync godoc
// @Summary      Sync consent resources
// @Description  Runs a sync cycle inline, or enqueues it when async is set
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string               true   "Consent ID"
// @Param        request  body      driving.SyncRequest  false  "Resource types and mode"
// @Success      200      {object}  domain.SyncResult
// @Success      202      {object}  domain.SyncRun
// @Failure      400      {object}  ErrorResponse
// @Failure      409      {object}  ConflictResponse  "A lease is held"
// @Router       /api/v1/consents/{id}/sync [post]
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req driving.SyncRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	req.ConsentID = chi.URLParam(r, "id")
	req.TenantID = IdentityFrom(r.Context()).TenantID

	if req.Async {
		run, err := s.svc.Sync.Enqueue(r.Context(), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, run)
		return
	}

	result, err := s.svc.Sync.Sync(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSyncStatus godoc
// @Summary      Sync status
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Consent ID"
// @Success      200  {object}  domain.SyncStatusReport
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/consents/{id}/sync/status [get]
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Sync.Status(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r.Context()).TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListRecords godoc
// @Summary      List synced records
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id            path      string  true   "Consent ID"
// @Param        resourceType  query     string  true   "Resource type"  example(invoices)
// @Param        limit         query     int     false  "Page size (default 100, max 1000)"
// @Param        offset        query     int     false  "Records to skip"
// @Success      200           {object}  domain.RecordPage
// @Failure      400           {object}  ErrorResponse
// @Failure      404           {object}  ErrorResponse
// @Router       /api/v1/consents/{id}/records [get]
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := driving.RecordsQuery{
		ConsentID:    chi.URLParam(r, "id"),
		TenantID:     IdentityFrom(r.Context()).TenantID,
		ResourceType: r.URL.Query().Get("resourceType"),
	}
	var ok bool
	if q.Limit, ok = queryInt(w, r, "limit"); !ok {
		return
	}
	if q.Offset, ok = queryInt(w, r, "offset"); !ok {
		return
	}

	page, err := s.svc.Sync.Records(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Provider token endpoints

// handleListProviders godoc
// @Summary      List providers
// @Description  Catalog of supported providers with grant variant, resources and token operations
// @Tags         Provider auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}  domain.ProviderDescription
// @Router       /api/v1/providers [get]
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.OAuth.Providers(r.Context()))
}

// handleAuthorizationURL godoc
// @Summary      Start OAuth flow
// @Description  Returns the provider authorization URL for authorization-code providers
// @Tags         Provider auth
// @Produce      json
// @Security     BearerAuth
// @Param        provider   path      string  true  "Provider"  Enums(fortnox, visma)
// @Param        consentId  query     string  true  "Consent ID"
// @Success      200        {object}  driving.AuthorizeResponse
// @Failure      400        {object}  ErrorResponse  "Unsupported by the provider"
// @Router       /api/v1/auth/{provider}/url [get]
func (s *Server) handleAuthorizationURL(w http.ResponseWriter, r *http.Request) {
	req := driving.AuthorizeRequest{
		Provider:  chi.URLParam(r, "provider"),
		TenantID:  IdentityFrom(r.Context()).TenantID,
		ConsentID: r.URL.Query().Get("consentId"),
	}
	if !s.allowConsent(w, r, req.ConsentID) {
		return
	}

	resp, err := s.svc.OAuth.AuthorizationURL(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExchange godoc
// @Summary      Exchange provider credentials
// @Description  Obtains a token using the provider's grant variant and marks the consent Accepted
// @Tags         Provider auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string                   true  "Provider"
// @Param        request   body      driving.ExchangeRequest  true  "Code, application token or API token"
// @Success      200       {object}  domain.Consent
// @Failure      400       {object}  ErrorResponse
// @Failure      502       {object}  ErrorResponse  "Provider rejected the exchange"
// @Router       /api/v1/auth/{provider}/exchange [post]
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req driving.ExchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Provider = chi.URLParam(r, "provider")
	req.TenantID = IdentityFrom(r.Context()).TenantID
	if !s.allowConsent(w, r, req.ConsentID) {
		return
	}

	consent, err := s.svc.OAuth.Exchange(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	setETag(w, consent.Etag)
	writeJSON(w, http.StatusOK, consent)
}

// handleRefreshToken godoc
// @Summary      Refresh provider token
// @Tags         Provider auth
// @Accept       json
// @Security     BearerAuth
// @Param        provider  path  string                true  "Provider"
// @Param        request   body  driving.TokenRequest  true  "Consent"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /api/v1/auth/{provider}/refresh [post]
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	req, ok := s.tokenRequest(w, r)
	if !ok {
		return
	}
	if err := s.svc.OAuth.Refresh(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeToken godoc
// @Summary      Revoke provider token
// @Description  Revokes upstream best-effort, deletes the stored token and marks the consent Revoked
// @Tags         Provider auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        provider  path      string                true  "Provider"
// @Param        request   body      driving.TokenRequest  true  "Consent"
// @Success      200       {object}  domain.Consent
// @Failure      404       {object}  ErrorResponse
// @Router       /api/v1/auth/{provider}/revoke [post]
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	req, ok := s.tokenRequest(w, r)
	if !ok {
		return
	}
	consent, err := s.svc.OAuth.Revoke(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	setETag(w, consent.Etag)
	writeJSON(w, http.StatusOK, consent)
}

func (s *Server) tokenRequest(w http.ResponseWriter, r *http.Request) (driving.TokenRequest, bool) {
	var req driving.TokenRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.Provider = chi.URLParam(r, "provider")
	req.TenantID = IdentityFrom(r.Context()).TenantID
	return req, s.allowConsent(w, r, req.ConsentID)
}

// allowConsent applies the onboarding scope to consent ids taken from the body or query.
func (s *Server) allowConsent(w http.ResponseWriter, r *http.Request, consentID string) bool {
	if consentID == "" {
		writeError(w, http.StatusBadRequest, "validation", "consentId is required")
		return false
	}
	if !IdentityFrom(r.Context()).CanAccessConsent(consentID) {
		writeDomainError(w, r, domain.ErrNotFound)
		return false
	}
	return true
}

// API keys

// handleIssueAPIKey godoc
// @Summary      Issue API key
// @Description  Returns the plaintext key once; only its hash is stored
// @Tags         API keys
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      IssueAPIKeyRequest  true  "Key name"
// @Success      201      {object}  IssueAPIKeyResponse
// @Router       /api/v1/api-keys [post]
func (s *Server) handleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	var req IssueAPIKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	plaintext, key, err := s.svc.Auth.IssueAPIKey(r.Context(), IdentityFrom(r.Context()).TenantID, req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IssueAPIKeyResponse{Key: plaintext, APIKey: key})
}

// handleRevokeAPIKey godoc
// @Summary      Revoke API key
// @Tags         API keys
// @Security     BearerAuth
// @Param        id   path  string  true  "Key ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Router       /api/v1/api-keys/{id} [delete]
func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Auth.RevokeAPIKey(r.Context(), IdentityFrom(r.Context()).TenantID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", name+" must be an integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// decodeJSON writes a 400 and returns false when the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return false
	}
	return true
}

// fail logs unexpected errors before mapping them.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeDomainError(w, r, err)
}

func statusFor(err error) int {
	var etag *domain.EtagMismatchError
	switch {
	case errors.As(err, &etag):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnsupportedOperation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPlanLimit):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUpstreamProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeDomainError is the single mapping from domain errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusPreconditionFailed:
		writeError(w, status, "etag_mismatch", "consent was modified; fetch it again")
	case http.StatusUnauthorized:
		writeError(w, status, "unauthorized", "unauthorized")
	case http.StatusNotFound:
		writeError(w, status, "not_found", "not found")
	case http.StatusBadRequest:
		code := "validation"
		if errors.Is(err, domain.ErrUnsupportedOperation) {
			code = "unsupported_operation"
		}
		writeError(w, status, code, err.Error())
	case http.StatusConflict:
		var sc *domain.SyncConflictError
		if errors.As(err, &sc) {
			writeJSON(w, status, ConflictResponse{
				ErrorResponse: ErrorResponse{Error: sc.Error(), Code: "sync_in_progress"},
				Held:          sc.Held,
				States:        sc.States,
			})
			return
		}
		writeError(w, status, "conflict", err.Error())
	case http.StatusForbidden:
		writeError(w, status, "plan_limit", err.Error())
	case http.StatusBadGateway:
		writeError(w, status, "upstream_provider", "provider request failed")
	default:
		writeError(w, status, "internal", "internal server error")
	}
}

func setETag(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", `"`+etag+`"`)
}

// parseIfMatch strips quotes and the weak prefix. "*" matches anything.
func parseIfMatch(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if v == "*" {
		return ""
	}
	return v
}
