package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/SinaHo/referral-gate-backend/internal/auth"
	"github.com/SinaHo/referral-gate-backend/internal/handler"
	"github.com/SinaHo/referral-gate-backend/internal/middleware"
)

// NewRouter builds the admin HTTP surface.
func NewRouter(admin *handler.AdminHandler, logger *zap.SugaredLogger, jwtSecret string) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.HTTPLogging(logger))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	r.HandleFunc("/admin/login", admin.Login).Methods(http.MethodPost)

	api := r.PathPrefix("/api/admin").Subrouter()
	api.Use(middleware.RequireRole(logger, jwtSecret, auth.RoleAdmin))
	api.HandleFunc("/data", admin.Data).Methods(http.MethodGet)
	api.HandleFunc("/accounts", admin.AddAccount).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}
