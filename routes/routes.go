package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/supergidii/Loans/controllers"
	"github.com/supergidii/Loans/middleware"
	"github.com/supergidii/Loans/utils"
)

type Deps struct {
	Matching    *controllers.MatchingController
	Market      *controllers.MarketController
	Verifier    *utils.TokenVerifier
	CronKey     string
	CronLimiter *middleware.IPRateLimiter
	CORSOrigins []string
}

var defaultOrigins = []string{
	"http://localhost:3000", "http://localhost:8080", "http://127.0.0.1:3000", "http://127.0.0.1:8080",
}

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func InitRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint for container health checks
	r.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"service":   "loans-api",
		})
	})).Methods(http.MethodGet)

	origins := append(append([]string{}, defaultOrigins...), d.CORSOrigins...)
	r.Use(func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-CRON-KEY", "X-Requested-With", "X-Request-ID"}),
			handlers.AllowCredentials(),
		)(next)
	})

	api := r.PathPrefix("/v1").Subrouter()

	// Catch-all OPTIONS handler for CORS preflight
	api.PathPrefix("/").HandlerFunc(optionsHandler).Methods(http.MethodOptions)

	cronLimiter := d.CronLimiter
	if cronLimiter == nil {
		cronLimiter = middleware.NewIPRateLimiter(1000, time.Hour, nil)
	}
	// Cron endpoint for the maturation sweep (protected via X-CRON-KEY header)
	api.Handle("/cron/maturation-sweep",
		cronLimiter.Middleware(middleware.CronKey(d.CronKey)(http.HandlerFunc(d.Matching.Sweep))),
	).Methods(http.MethodPost)

	auth := middleware.Auth(d.Verifier)
	api.Handle("/investments", auth(http.HandlerFunc(d.Matching.Deposit))).Methods(http.MethodPost)
	api.Handle("/investments/{id:[0-9]+}", auth(http.HandlerFunc(d.Matching.GetInvestment))).Methods(http.MethodGet)
	api.Handle("/pairings/{id:[0-9]+}/confirm", auth(http.HandlerFunc(d.Matching.ConfirmPairing))).Methods(http.MethodPost)
	api.Handle("/investors/me/cancel-waiting", auth(http.HandlerFunc(d.Matching.CancelWaiting))).Methods(http.MethodPost)

	if d.Market != nil {
		api.Handle("/investments/{id:[0-9]+}/sell", auth(http.HandlerFunc(d.Market.Sell))).Methods(http.MethodPost)
		api.Handle("/sales/{id:[0-9]+}/buy", auth(http.HandlerFunc(d.Market.Buy))).Methods(http.MethodPost)
		api.Handle("/sales/{id:[0-9]+}/cancel", auth(http.HandlerFunc(d.Market.Cancel))).Methods(http.MethodPost)
	}

	return r
}
