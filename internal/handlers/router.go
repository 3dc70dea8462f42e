package handlers

import (
	"net/http"

	"github.com/fintrack/fintrack/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// collectionPaths maps each record collection to its route.
var collectionPaths = []struct{ name, path string }{
	{"templates", "/expenses/templates"},
	{"income", "/income"},
	{"expenses", "/expenses"},
	{"loans", "/loans"},
	{"debts", "/debts"},
	{"investments", "/investments"},
}

type RouterDeps struct {
	Auth           *AuthHandlers
	Records        *RecordHandlers
	AuthMiddleware *middleware.AuthMiddleware
	Metrics        *middleware.HTTPMetrics
	Gatherer       prometheus.Gatherer
	Logger         *logrus.Logger
}

func NewRouter(deps RouterDeps) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware)
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", deps.Auth.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/register", deps.Auth.Register).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", deps.Auth.Refresh).Methods("POST", "OPTIONS")
	auth.HandleFunc("/request-otp", deps.Auth.RequestOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", deps.Auth.VerifyOTP).Methods("POST", "OPTIONS")
	auth.Handle("/verify", deps.AuthMiddleware.RequireAuth(http.HandlerFunc(deps.Auth.Verify))).Methods("GET", "OPTIONS")
	auth.Handle("/logout", deps.AuthMiddleware.RequireAuth(http.HandlerFunc(deps.Auth.Logout))).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(deps.AuthMiddleware.RequireAuth)
	protected.HandleFunc("/dashboard", deps.Records.Dashboard).Methods("GET")
	protected.HandleFunc("/expenses/templates/apply", deps.Records.ApplyTemplates).Methods("POST")
	protected.HandleFunc("/loans/{id}/schedule", deps.Records.LoanSchedule).Methods("GET")

	// Templates come first so "/expenses/templates" is not taken as an expense id.
	for _, c := range collectionPaths {
		protected.HandleFunc(c.path, deps.Records.List(c.name)).Methods("GET")
		protected.HandleFunc(c.path, deps.Records.Create(c.name)).Methods("POST")
		protected.HandleFunc(c.path+"/{id}", deps.Records.Get(c.name)).Methods("GET")
		protected.HandleFunc(c.path+"/{id}", deps.Records.Update(c.name)).Methods("PUT", "PATCH")
		protected.HandleFunc(c.path+"/{id}", deps.Records.Delete(c.name)).Methods("DELETE")
	}

	return router
}
