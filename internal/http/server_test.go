package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"dropshop/backend/internal/auth"
	"dropshop/backend/internal/config"
	"dropshop/backend/internal/crypto"
	"dropshop/backend/internal/db"
	"dropshop/backend/internal/model"
	"dropshop/backend/internal/repository"
)

// Integration tests run against a real Postgres instance and are skipped
// when DATABASE_URL is not set.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	cfg := config.Config{
		JWTSecret:      "test-secret",
		JWTIssuer:      "dropshop-test",
		AccessTokenTTL: 30 * time.Minute,
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1 << 20,
	}
	return NewServer(cfg, repository.NewStore(pool), nil)
}

func seedAccount(t *testing.T, s *Server, role model.Role) (model.Account, string) {
	t.Helper()
	hash, err := crypto.HashPassword("password123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	uid, err := crypto.NewPublicID(crypto.AccountUIDLength)
	if err != nil {
		t.Fatalf("generate uid: %v", err)
	}
	now := time.Now().UTC()
	account, err := s.store.CreateAccount(context.Background(), model.Account{
		UID:          uid,
		FullName:     "Seeded " + string(role),
		Email:        uuid.NewString() + "@test.local",
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, account.UID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return account, token
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	email := uuid.NewString() + "@test.local"

	rec := doRequest(t, router, http.MethodPost, "/auth/register", "", map[string]string{
		"full_name": "Alice Example",
		"email":     email,
		"password":  "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created accountResponse
	decodeBody(t, rec, &created)
	if created.Role != string(model.RoleCustomer) {
		t.Fatalf("register: expected customer role, got %s", created.Role)
	}
	if len(created.UID) != crypto.AccountUIDLength {
		t.Fatalf("register: expected %d-char uid, got %q", crypto.AccountUIDLength, created.UID)
	}

	rec = doRequest(t, router, http.MethodPost, "/auth/register", "", map[string]string{
		"full_name": "Alice Clone",
		"email":     email,
		"password":  "password123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"username": email,
		"password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tokens tokenResponse
	decodeBody(t, rec, &tokens)
	if tokens.AccessToken == "" || tokens.TokenType != "bearer" {
		t.Fatalf("login: unexpected token payload %+v", tokens)
	}

	rec = doRequest(t, router, http.MethodGet, "/auth/me", tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	var me accountResponse
	decodeBody(t, rec, &me)
	if me.Email != email {
		t.Fatalf("me: expected email %s, got %s", email, me.Email)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	account, _ := seedAccount(t, s, model.RoleCustomer)

	rec := doRequest(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"username": account.Email,
		"password": "not-the-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSelfRoleChangeForbidden(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	account, token := seedAccount(t, s, model.RoleCustomer)

	rec := doRequest(t, router, http.MethodPut, "/users/"+account.UID, token, map[string]string{
		"role": "sysadmin",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope errorResponse
	decodeBody(t, rec, &envelope)
	if envelope.Message != "Cannot change your own role" {
		t.Fatalf("unexpected message %q", envelope.Message)
	}

	// Sysadmins may update their own role.
	admin, adminToken := seedAccount(t, s, model.RoleSysadmin)
	rec = doRequest(t, router, http.MethodPut, "/users/"+admin.UID, adminToken, map[string]string{
		"role": "shop_owner",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sysadmin self role change: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminUserLifecycle(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	admin, adminToken := seedAccount(t, s, model.RoleSysadmin)

	email := uuid.NewString() + "@test.local"
	rec := doRequest(t, router, http.MethodPost, "/users/", adminToken, map[string]interface{}{
		"full_name": "Managed User",
		"email":     email,
		"password":  "password123",
		"role":      "affiliator",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created accountResponse
	decodeBody(t, rec, &created)
	if created.Role != string(model.RoleAffiliator) {
		t.Fatalf("create user: expected affiliator, got %s", created.Role)
	}

	rec = doRequest(t, router, http.MethodPatch, "/users/"+admin.UID+"/status", adminToken, map[string]bool{
		"is_active": false,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self deactivate: expected 403, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodDelete, "/users/"+admin.UID, adminToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self delete: expected 403, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPatch, "/users/"+created.UID+"/status", adminToken, map[string]bool{
		"is_active": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate other: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodDelete, "/users/"+created.UID, adminToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete other: expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/users/"+created.UID, adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", rec.Code)
	}
}

func TestCustomerCannotListUsers(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	_, token := seedAccount(t, s, model.RoleCustomer)

	rec := doRequest(t, router, http.MethodGet, "/users/", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestListUsersPagination(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	_, adminToken := seedAccount(t, s, model.RoleSysadmin)

	marker := "Pager" + uuid.NewString()[:8]
	for i := 0; i < 25; i++ {
		rec := doRequest(t, router, http.MethodPost, "/users/", adminToken, map[string]string{
			"full_name": fmt.Sprintf("%s Member %02d", marker, i),
			"email":     uuid.NewString() + "@test.local",
			"password":  "password123",
			"role":      "customer",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed user %d: expected 201, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	var page userListResponse
	rec := doRequest(t, router, http.MethodGet, "/users/?search="+marker+"&limit=10", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list page 1: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &page)
	if len(page.Data) != 10 {
		t.Fatalf("page 1: expected 10 items, got %d", len(page.Data))
	}
	if page.Pagination.TotalItems != 25 || page.Pagination.TotalPages != 3 {
		t.Fatalf("page 1: unexpected pagination %+v", page.Pagination)
	}
	if !page.Pagination.HasNext || page.Pagination.HasPrev {
		t.Fatalf("page 1: unexpected next/prev flags %+v", page.Pagination)
	}

	rec = doRequest(t, router, http.MethodGet, "/users/?search="+marker+"&limit=10&page=3", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list page 3: expected 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &page)
	if len(page.Data) != 5 {
		t.Fatalf("page 3: expected 5 items, got %d", len(page.Data))
	}
	if page.Pagination.HasNext || !page.Pagination.HasPrev {
		t.Fatalf("page 3: unexpected next/prev flags %+v", page.Pagination)
	}

	rec = doRequest(t, router, http.MethodGet, "/users/?limit=500", adminToken, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("limit over cap: expected 422, got %d", rec.Code)
	}
}

func TestShopLifecycle(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	_, token := seedAccount(t, s, model.RoleCustomer)

	subdomain := "shop-" + uuid.NewString()[:8]
	rec := doRequest(t, router, http.MethodPost, "/shops/", token, map[string]string{
		"name":      "Test Shop",
		"subdomain": subdomain,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shop: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var shop shopResponse
	decodeBody(t, rec, &shop)
	if len(shop.ShopID) != crypto.ShopIDLength {
		t.Fatalf("create shop: expected %d-char shop id, got %q", crypto.ShopIDLength, shop.ShopID)
	}

	rec = doRequest(t, router, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me after shop: expected 200, got %d", rec.Code)
	}
	var me accountResponse
	decodeBody(t, rec, &me)
	if me.Role != string(model.RoleShopOwner) {
		t.Fatalf("expected role promotion to shop_owner, got %s", me.Role)
	}

	rec = doRequest(t, router, http.MethodGet, "/shops/my-shop", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("my-shop: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodPost, "/shops/", token, map[string]string{
		"name":      "Second Shop",
		"subdomain": "other-" + uuid.NewString()[:8],
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second shop: expected 400, got %d", rec.Code)
	}

	_, otherToken := seedAccount(t, s, model.RoleCustomer)
	rec = doRequest(t, router, http.MethodPost, "/shops/", otherToken, map[string]string{
		"name":      "Squatter",
		"subdomain": subdomain,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate subdomain: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/shops/public/"+subdomain, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public shop: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var public shopPublic
	decodeBody(t, rec, &public)
	if public.Name != "Test Shop" {
		t.Fatalf("public shop: unexpected name %q", public.Name)
	}
}

func TestMyShopAfterRoleDemotion(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	owner, token := seedAccount(t, s, model.RoleCustomer)
	_, adminToken := seedAccount(t, s, model.RoleSysadmin)

	rec := doRequest(t, router, http.MethodPost, "/shops/", token, map[string]string{
		"name":      "Demoted Shop",
		"subdomain": "demoted-" + uuid.NewString()[:8],
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create shop: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Access keys off the current role, not the shop row, so taking the
	// role away locks the owner out even though the shop still references
	// them.
	rec = doRequest(t, router, http.MethodPut, "/users/"+owner.UID, adminToken, map[string]string{
		"role": "customer",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("demote owner: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodGet, "/shops/my-shop", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("my-shop after demotion: expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope errorResponse
	decodeBody(t, rec, &envelope)
	if envelope.Message != "User is not a shop owner" {
		t.Fatalf("unexpected message %q", envelope.Message)
	}
}

func TestCreateUserDuplicateGates(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	_, adminToken := seedAccount(t, s, model.RoleSysadmin)

	email := uuid.NewString() + "@test.local"
	phone := "09" + uuid.NewString()[:8]
	nationalID := "ID" + uuid.NewString()[:8]
	rec := doRequest(t, router, http.MethodPost, "/users/", adminToken, map[string]string{
		"full_name":    "Gate Keeper",
		"email":        email,
		"phone_number": phone,
		"national_id":  nationalID,
		"password":     "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	assertDuplicate := func(body map[string]string, message string) {
		t.Helper()
		rec := doRequest(t, router, http.MethodPost, "/users/", adminToken, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
		var envelope errorResponse
		decodeBody(t, rec, &envelope)
		if envelope.Message != message {
			t.Fatalf("expected %q, got %q", message, envelope.Message)
		}
	}

	assertDuplicate(map[string]string{
		"full_name":    "Phone Clash",
		"email":        uuid.NewString() + "@test.local",
		"phone_number": phone,
		"password":     "password123",
	}, "Phone number already in use")

	assertDuplicate(map[string]string{
		"full_name":   "ID Clash",
		"email":       uuid.NewString() + "@test.local",
		"national_id": nationalID,
		"password":    "password123",
	}, "National ID already in use")

	// Email is checked first, so a request clashing on every field reports
	// the email conflict.
	assertDuplicate(map[string]string{
		"full_name":    "Everything Clash",
		"email":        email,
		"phone_number": phone,
		"national_id":  nationalID,
		"password":     "password123",
	}, "Email already in use")
}

func TestListUsersRoleFilter(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	_, adminToken := seedAccount(t, s, model.RoleSysadmin)

	marker := "Filter" + uuid.NewString()[:8]
	for _, role := range []string{"customer", "customer", "affiliator"} {
		rec := doRequest(t, router, http.MethodPost, "/users/", adminToken, map[string]string{
			"full_name": marker + " " + role,
			"email":     uuid.NewString() + "@test.local",
			"password":  "password123",
			"role":      role,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed %s: expected 201, got %d: %s", role, rec.Code, rec.Body.String())
		}
	}

	var page userListResponse
	rec := doRequest(t, router, http.MethodGet, "/users/?search="+marker+"&role=affiliator", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("role filter: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &page)
	if len(page.Data) != 1 {
		t.Fatalf("role filter: expected 1 item, got %d", len(page.Data))
	}
	if page.Data[0].Role != "affiliator" {
		t.Fatalf("role filter: unexpected role %s", page.Data[0].Role)
	}

	// Unknown role values and "all" are ignored, not rejected.
	for _, raw := range []string{"bogus", "all"} {
		rec = doRequest(t, router, http.MethodGet, "/users/?search="+marker+"&role="+raw, adminToken, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("role=%s: expected 200, got %d: %s", raw, rec.Code, rec.Body.String())
		}
		decodeBody(t, rec, &page)
		if len(page.Data) != 3 {
			t.Fatalf("role=%s: expected 3 items, got %d", raw, len(page.Data))
		}
	}
}

func TestInactiveAccountRejected(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()
	account, token := seedAccount(t, s, model.RoleCustomer)

	if _, err := s.store.SetAccountStatus(context.Background(), account.UID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	rec := doRequest(t, router, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for disabled account, got %d", rec.Code)
	}
}
