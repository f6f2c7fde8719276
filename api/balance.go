package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// BalanceReader is the subset of internal/ledger.Ledger the balance
// endpoint reads through.
type BalanceReader interface {
	ReadBalance(ctx context.Context, userID string) (int64, error)
}

type balanceResponse struct {
	Success bool  `json:"success"`
	UserID  string `json:"userId"`
	Balance int64 `json:"balance"`
}

// HandleBalance handles GET /api/users/{id}/balance.
func HandleBalance(ledger BalanceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID := userIDFromPath(r.URL.Path)
		if userID == "" {
			sendJSONError(w, "Missing user id", http.StatusBadRequest)
			return
		}

		balance, err := ledger.ReadBalance(r.Context(), userID)
		if err != nil {
			sendJSONError(w, "Failed to read balance", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(balanceResponse{Success: true, UserID: userID, Balance: balance})
	}
}

// userIDFromPath extracts {id} out of /api/users/{id}/balance.
func userIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "users" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
