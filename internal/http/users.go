package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"dropshop/backend/internal/crypto"
	"dropshop/backend/internal/model"
	"dropshop/backend/internal/repository"
)

type userListResponse struct {
	Data       []accountResponse `json:"data"`
	Pagination paginationInfo    `json:"pagination"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page := 1
	limit := 10
	var details []fieldError

	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			details = append(details, fieldError{Field: "page", Message: "must be greater than or equal to 1", Type: "value_error"})
		} else {
			page = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			details = append(details, fieldError{Field: "limit", Message: "must be between 1 and 100", Type: "value_error"})
		} else {
			limit = parsed
		}
	}
	if len(details) > 0 {
		writeValidationError(w, r, details)
		return
	}

	filter := repository.ListFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	// An unknown role value is ignored rather than rejected.
	if raw := r.URL.Query().Get("role"); raw != "" && raw != "all" {
		if role, ok := model.ParseRole(raw); ok {
			filter.Role = &role
		}
	}

	total, err := s.store.CountAccounts(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	accounts, err := s.store.ListAccounts(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	data := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		data = append(data, mapAccountResponse(account))
	}

	writeJSON(w, http.StatusOK, userListResponse{
		Data:       data,
		Pagination: paginate(page, limit, total),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())
	uid := chi.URLParam(r, "uid")

	if !isPrivileged(current) && current.UID != uid {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}

	account, err := s.store.GetAccountByUID(r.Context(), uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, "Account not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mapAccountResponse(account))
}

type createUserRequest struct {
	FullName    string  `json:"full_name"`
	Email       string  `json:"email"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	NationalID  *string `json:"national_id,omitempty"`
	Role        *string `json:"role,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	Password    string  `json:"password"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	var details []fieldError
	details = appendFieldErrors(details, validateFullName(req.FullName))
	details = appendFieldErrors(details, validateEmail(req.Email))
	details = appendFieldErrors(details, validatePassword(req.Password))
	details = appendFieldErrors(details, validateOptionalLength("phone_number", req.PhoneNumber, 20))
	details = appendFieldErrors(details, validateOptionalLength("national_id", req.NationalID, 20))

	role := model.RoleCustomer
	if req.Role != nil {
		parsed, ok := model.ParseRole(*req.Role)
		if !ok {
			details = append(details, fieldError{Field: "role", Message: "value is not a valid role", Type: "enum"})
		} else {
			role = parsed
		}
	}
	if len(details) > 0 {
		writeValidationError(w, r, details)
		return
	}

	// Uniqueness gates, checked in a fixed order.
	if taken, err := s.store.EmailExists(r.Context(), req.Email, ""); err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	} else if taken {
		writeError(w, r, http.StatusBadRequest, "Email already in use")
		return
	}
	if req.PhoneNumber != nil && *req.PhoneNumber != "" {
		if taken, err := s.store.PhoneExists(r.Context(), *req.PhoneNumber, ""); err != nil {
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		} else if taken {
			writeError(w, r, http.StatusBadRequest, "Phone number already in use")
			return
		}
	}
	if req.NationalID != nil && *req.NationalID != "" {
		if taken, err := s.store.NationalIDExists(r.Context(), *req.NationalID, ""); err != nil {
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		} else if taken {
			writeError(w, r, http.StatusBadRequest, "National ID already in use")
			return
		}
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	account, err := s.createAccount(r.Context(), req.FullName, req.Email, req.PhoneNumber, req.NationalID, req.Password, role, isActive)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, r, http.StatusBadRequest, duplicateMessage(err))
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, mapAccountResponse(account))
}

type updateUserRequest struct {
	FullName    *string `json:"full_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	NationalID  *string `json:"national_id,omitempty"`
	Role        *string `json:"role,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	Password    *string `json:"password,omitempty"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())
	uid := chi.URLParam(r, "uid")

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	var details []fieldError
	if req.FullName != nil {
		details = appendFieldErrors(details, validateFullName(*req.FullName))
	}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		req.Email = &email
		details = appendFieldErrors(details, validateEmail(email))
	}
	details = appendFieldErrors(details, validateOptionalLength("phone_number", req.PhoneNumber, 20))
	details = appendFieldErrors(details, validateOptionalLength("national_id", req.NationalID, 20))
	var newRole *model.Role
	if req.Role != nil {
		parsed, ok := model.ParseRole(*req.Role)
		if !ok {
			details = append(details, fieldError{Field: "role", Message: "value is not a valid role", Type: "enum"})
		} else {
			newRole = &parsed
		}
	}
	if req.Password != nil && *req.Password != "" {
		details = appendFieldErrors(details, validatePassword(*req.Password))
	}
	if len(details) > 0 {
		writeValidationError(w, r, details)
		return
	}

	target, err := s.store.GetAccountByUID(r.Context(), uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, "Account not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !isPrivileged(current) && current.UID != uid {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}

	// Uniqueness is re-checked only for fields that actually change value,
	// with the target itself excluded.
	if req.Email != nil && *req.Email != target.Email {
		if taken, err := s.store.EmailExists(r.Context(), *req.Email, uid); err != nil {
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		} else if taken {
			writeError(w, r, http.StatusBadRequest, "Email already in use")
			return
		}
	}
	if req.PhoneNumber != nil && *req.PhoneNumber != "" && !sameOptional(req.PhoneNumber, target.PhoneNumber) {
		if taken, err := s.store.PhoneExists(r.Context(), *req.PhoneNumber, uid); err != nil {
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		} else if taken {
			writeError(w, r, http.StatusBadRequest, "Phone number already in use")
			return
		}
	}
	if req.NationalID != nil && *req.NationalID != "" && !sameOptional(req.NationalID, target.NationalID) {
		if taken, err := s.store.NationalIDExists(r.Context(), *req.NationalID, uid); err != nil {
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		} else if taken {
			writeError(w, r, http.StatusBadRequest, "National ID already in use")
			return
		}
	}

	// A caller may not change their own role unless they are sysadmin.
	// Privileged callers changing someone else's role is allowed.
	if current.UID == uid && current.Role != model.RoleSysadmin && newRole != nil {
		writeError(w, r, http.StatusForbidden, "Cannot change your own role")
		return
	}

	update := repository.AccountUpdate{
		FullName:    req.FullName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		NationalID:  req.NationalID,
		Role:        newRole,
		IsActive:    req.IsActive,
	}
	// An empty password leaves the stored hash untouched.
	if req.Password != nil && *req.Password != "" {
		hash, err := crypto.HashPassword(*req.Password)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		}
		update.PasswordHash = &hash
	}

	account, err := s.store.UpdateAccount(r.Context(), uid, update)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, r, http.StatusBadRequest, duplicateMessage(err))
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mapAccountResponse(account))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())
	uid := chi.URLParam(r, "uid")

	if _, err := s.store.GetAccountByUID(r.Context(), uid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, "Account not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	if current.Role != model.RoleSysadmin {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}
	if current.UID == uid {
		writeError(w, r, http.StatusForbidden, "Cannot delete yourself")
		return
	}

	deleted, err := s.store.DeleteAccount(r.Context(), uid)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, "Account not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type userStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

func (s *Server) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())
	uid := chi.URLParam(r, "uid")

	var req userStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IsActive == nil {
		writeValidationError(w, r, []fieldError{{Field: "is_active", Message: "field required", Type: "missing"}})
		return
	}

	if _, err := s.store.GetAccountByUID(r.Context(), uid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, "Account not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !isPrivileged(current) {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}
	// Deactivating yourself is forbidden; re-activating yourself is not.
	if current.UID == uid && !*req.IsActive {
		writeError(w, r, http.StatusForbidden, "Cannot deactivate yourself")
		return
	}

	account, err := s.store.SetAccountStatus(r.Context(), uid, *req.IsActive)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mapAccountResponse(account))
}

type userPasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())
	uid := chi.URLParam(r, "uid")

	var req userPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if details := validatePassword(req.Password); len(details) > 0 {
		writeValidationError(w, r, details)
		return
	}

	if _, err := s.store.GetAccountByUID(r.Context(), uid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, "Account not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	if !isPrivileged(current) && current.UID != uid {
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := s.store.UpdateAccountPassword(r.Context(), uid, hash); err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
