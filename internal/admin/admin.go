package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/G4FproAPI/Astra-OSS/internal/accounts"
	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
	"github.com/G4FproAPI/Astra-OSS/internal/auth"
	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

// Analytics aggregates request logs. *db.DB satisfies it.
type Analytics interface {
	GetAccountAnalytics(ctx context.Context, accountID, from, to string) (*models.AccountAnalytics, error)
}

type AdminHandler struct {
	store       accounts.Store
	accountant  *accounts.Accountant
	analytics   Analytics
	jwtSecret   string
	adminSecret string
}

// NewAdminHandler creates the admin API. analytics may be nil when no
// request log database is configured.
func NewAdminHandler(store accounts.Store, accountant *accounts.Accountant, analytics Analytics, jwtSecret, adminSecret string) *AdminHandler {
	return &AdminHandler{
		store:       store,
		accountant:  accountant,
		analytics:   analytics,
		jwtSecret:   jwtSecret,
		adminSecret: adminSecret,
	}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/token", h.IssueToken).Methods("POST")

	protected := router.PathPrefix("/admin").Subrouter()
	protected.Use(auth.NewMiddleware(h.jwtSecret).Authenticate)

	// Account management
	protected.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	protected.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	protected.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	protected.HandleFunc("/accounts/{id}", h.UpdateAccount).Methods("PUT")
	protected.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods("DELETE")
	protected.HandleFunc("/accounts/{id}/ban", h.BanAccount).Methods("POST")
	protected.HandleFunc("/accounts/{id}/unban", h.UnbanAccount).Methods("POST")
	protected.HandleFunc("/accounts/{id}/rotate-key", h.RotateAPIKey).Methods("POST")
	protected.HandleFunc("/accounts/{id}/reset-usage", h.ResetUsage).Methods("POST")
	protected.HandleFunc("/banned", h.ListBanned).Methods("GET")

	// Analytics
	protected.HandleFunc("/accounts/{id}/analytics", h.GetAnalytics).Methods("GET")
}

func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret  string `json:"secret"`
		Subject string `json:"subject"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteStatus(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if h.adminSecret == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		apierr.WriteStatus(w, http.StatusUnauthorized, "Invalid admin secret")
		return
	}

	if req.Subject == "" {
		req.Subject = "admin"
	}
	token, err := auth.GenerateToken(req.Subject, h.jwtSecret)
	if err != nil {
		log.Printf("Token generation failed: %v", err)
		apierr.WriteStatus(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             string   `json:"user_id"`
		APIKey         string   `json:"api_key"`
		Plan           string   `json:"plan"`
		MaxUsagePerDay *float64 `json:"max_usage_per_day"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteStatus(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.MaxUsagePerDay != nil && *req.MaxUsagePerDay < 0 {
		apierr.WriteStatus(w, http.StatusBadRequest, "max_usage_per_day must not be negative")
		return
	}

	acc, err := h.store.Create(r.Context(), accounts.NewAccount{
		ID:             req.ID,
		APIKey:         req.APIKey,
		Plan:           req.Plan,
		MaxUsagePerDay: req.MaxUsagePerDay,
	}, time.Now())
	if err != nil {
		writeStoreError(w, err, "Failed to create account")
		return
	}

	log.Printf("Created account %s on plan %s", acc.ID, acc.Plan)
	writeJSON(w, http.StatusCreated, acc)
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accs, err := h.store.ListAll(r.Context())
	if err != nil {
		apierr.WriteStatus(w, http.StatusInternalServerError, "Failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accs))
}

func (h *AdminHandler) ListBanned(w http.ResponseWriter, r *http.Request) {
	accs, err := h.store.ListBanned(r.Context())
	if err != nil {
		apierr.WriteStatus(w, http.StatusInternalServerError, "Failed to list banned accounts")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accs))
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.store.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err, "Failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *AdminHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var updates struct {
		APIKey         *string  `json:"api_key"`
		Plan           *string  `json:"plan"`
		Banned         *bool    `json:"banned"`
		MaxUsagePerDay *float64 `json:"max_usage_per_day"`
		Usage          *float64 `json:"usage"`
	}

	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		apierr.WriteStatus(w, http.StatusBadRequest, "Invalid request")
		return
	}

	acc, err := h.store.Update(r.Context(), mux.Vars(r)["id"], accounts.Update{
		APIKey:         updates.APIKey,
		Plan:           updates.Plan,
		Banned:         updates.Banned,
		MaxUsagePerDay: updates.MaxUsagePerDay,
		Usage:          updates.Usage,
	})
	if err != nil {
		writeStoreError(w, err, "Failed to update account")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *AdminHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err, "Failed to delete account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) BanAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Ban(r.Context(), id); err != nil {
		writeStoreError(w, err, "Failed to ban account")
		return
	}
	log.Printf("🚫 Banned account %s", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "banned"})
}

func (h *AdminHandler) UnbanAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Unban(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err, "Failed to unban account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbanned"})
}

func (h *AdminHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	newAPIKey, err := accounts.GenerateAPIKey()
	if err != nil {
		apierr.WriteStatus(w, http.StatusInternalServerError, "Failed to generate API key")
		return
	}

	if _, err := h.store.Update(r.Context(), mux.Vars(r)["id"], accounts.Update{APIKey: &newAPIKey}); err != nil {
		writeStoreError(w, err, "Failed to rotate API key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"api_key": newAPIKey,
		"status":  "rotated",
	})
}

func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountant.ResetUsage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err, "Failed to reset usage")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *AdminHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		apierr.WriteStatus(w, http.StatusServiceUnavailable, "Request logging is not configured")
		return
	}

	// Get query params for time range
	from := r.URL.Query().Get("from") // e.g., "2024-01-01"
	to := r.URL.Query().Get("to")

	stats, err := h.analytics.GetAccountAnalytics(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		log.Printf("Failed to get analytics: %v", err)
		apierr.WriteStatus(w, http.StatusInternalServerError, "Failed to get analytics")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound):
		apierr.WriteStatus(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, accounts.ErrAccountExists):
		apierr.WriteStatus(w, http.StatusConflict, "Account already exists")
	case errors.Is(err, accounts.ErrAPIKeyTaken):
		apierr.WriteStatus(w, http.StatusConflict, "API key already in use")
	default:
		log.Printf("%s: %v", msg, err)
		apierr.WriteStatus(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func nonNil(accs []models.Account) []models.Account {
	if accs == nil {
		return []models.Account{}
	}
	return accs
}
