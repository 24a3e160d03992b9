package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/service"
)

// AdminHandler serves the administrative panel API.
type AdminHandler struct {
	svc    service.AdminService
	logger *zap.SugaredLogger
}

// NewAdminHandler constructs a new AdminHandler.
func NewAdminHandler(svc service.AdminService, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

type adminDataResponse struct {
	Users    []model.User                `json:"users"`
	Accounts []model.AccountWithProfiles `json:"accounts"`
}

type profileRequest struct {
	Name     string `json:"profile_name"`
	Password string `json:"profile_password"`
}

type addAccountRequest struct {
	Email           string           `json:"netflix_email"`
	Password        string           `json:"netflix_password"`
	RecoveryAccount string           `json:"gmail_account"`
	Profiles        []profileRequest `json:"profiles"`
}

type addAccountResponse struct {
	Message string                     `json:"message"`
	Account *model.AccountWithProfiles `json:"account"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Login accepts the admin password as a form field or a JSON body.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var pw string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		pw = body.Password
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form")
			return
		}
		pw = r.PostFormValue("password")
	}

	token, err := h.svc.Login(r.Context(), pw)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, loginResponse{Success: false, Message: "wrong password"})
			return
		}
		h.logger.Errorw("admin login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Success: true, Token: token})
}

// Data returns every user and every account with its profiles.
func (h *AdminHandler) Data(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.logger.Errorw("listing users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	accounts, err := h.svc.ListAccountsWithProfiles(r.Context())
	if err != nil {
		h.logger.Errorw("listing accounts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, adminDataResponse{Users: users, Accounts: accounts})
}

// AddAccount creates an account and its profiles.
func (h *AdminHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := service.AddAccountRequest{
		Email:           req.Email,
		Password:        req.Password,
		RecoveryAccount: req.RecoveryAccount,
		Profiles:        make([]service.ProfileInput, 0, len(req.Profiles)),
	}
	for _, p := range req.Profiles {
		in.Profiles = append(in.Profiles, service.ProfileInput{Name: p.Name, Password: p.Password})
	}

	acc, err := h.svc.AddAccount(r.Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAccount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Errorw("adding account failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Infow("account added", "account_id", acc.ID, "profiles", len(acc.Profiles))
	writeJSON(w, http.StatusCreated, addAccountResponse{Message: "account added", Account: acc})
}
