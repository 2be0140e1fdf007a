package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/supergidii/Loans/utils"
)

// Auth verifies the bearer token and puts the user id and role on the
// request context.
func Auth(v *utils.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := utils.BearerToken(r)
			if !ok {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
				return
			}
			claims, err := v.Verify(r.Context(), tokenStr)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, utils.ErrTokenExpired) {
					msg = "Session expired, please log in again"
				}
				utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: msg})
				return
			}
			userID, err := utils.UserIDFromClaims(claims)
			if err != nil {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Invalid token"})
				return
			}

			role, _ := claims["role"].(string)
			// admin tokens are not investor sessions
			if role == "admin" {
				utils.WriteJSON(w, http.StatusForbidden, utils.APIResponse{Success: false, Message: "Access denied"})
				return
			}

			ctx := context.WithValue(r.Context(), utils.UserIDKey, userID)
			ctx = context.WithValue(ctx, utils.UserRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
