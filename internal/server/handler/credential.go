package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// CredentialService defines what the credential handler requires from the
// service layer.
type CredentialService interface {
	AddCredential(ctx context.Context, userID, username, venue, apiKey, apiSecret string, testnet bool) (domain.CredentialSummary, error)
	ListCredentials(ctx context.Context, userID string) ([]domain.CredentialSummary, error)
	DeleteCredential(ctx context.Context, userID, venue string) error
	Balances(ctx context.Context, userID, venue string) (map[string]float64, error)
}

// CredentialHandler serves a user's exchange credentials.
type CredentialHandler struct {
	creds  CredentialService
	logger *slog.Logger
}

// NewCredentialHandler creates a CredentialHandler.
func NewCredentialHandler(creds CredentialService, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{
		creds:  creds,
		logger: logger.With(slog.String("handler", "credentials")),
	}
}

type addCredentialRequest struct {
	Venue     string `json:"venue"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	Username  string `json:"username"`
}

type listCredentialsResponse struct {
	Credentials []domain.CredentialSummary `json:"credentials"`
}

// AddCredential probes and stores a venue key pair, replacing any existing
// one for the venue.
// POST /api/users/{user}/credentials
func (h *CredentialHandler) AddCredential(w http.ResponseWriter, r *http.Request) {
	var req addCredentialRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	summary, err := h.creds.AddCredential(r.Context(), r.PathValue("user"), req.Username,
		req.Venue, req.APIKey, req.APISecret, req.Testnet)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to add credential", err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// ListCredentials returns the user's venues without secrets.
// GET /api/users/{user}/credentials
func (h *CredentialHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.creds.ListCredentials(r.Context(), r.PathValue("user"))
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to list credentials", err)
		return
	}
	if creds == nil {
		creds = []domain.CredentialSummary{}
	}
	writeJSON(w, http.StatusOK, listCredentialsResponse{Credentials: creds})
}

// DeleteCredential removes the user's key pair for one venue.
// DELETE /api/users/{user}/credentials/{venue}
func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.DeleteCredential(r.Context(), r.PathValue("user"), r.PathValue("venue")); err != nil {
		writeServiceError(w, r, h.logger, "failed to delete credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balances returns the non-zero balances the venue reports for the user.
// GET /api/users/{user}/credentials/{venue}/balances
func (h *CredentialHandler) Balances(w http.ResponseWriter, r *http.Request) {
	venue := r.PathValue("venue")
	balances, err := h.creds.Balances(r.Context(), r.PathValue("user"), venue)
	if err != nil {
		writeServiceError(w, r, h.logger, "failed to fetch balances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":    venue,
		"balances": balances,
	})
}
