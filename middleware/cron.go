package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/supergidii/Loans/utils"
)

// CronKey guards scheduler endpoints with the X-CRON-KEY header. An empty
// configured key locks the endpoint.
func CronKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-CRON-KEY")
			if key == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
