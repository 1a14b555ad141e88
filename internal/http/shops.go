package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"dropshop/backend/internal/crypto"
	"dropshop/backend/internal/model"
	"dropshop/backend/internal/repository"
)

type createShopRequest struct {
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

type shopResponse struct {
	ShopID                string            `json:"shopid"`
	Name                  string            `json:"name"`
	Subdomain             string            `json:"subdomain"`
	LogoURL               *string           `json:"logo_url"`
	Hotline               *string           `json:"hotline"`
	Address               *string           `json:"address"`
	ProvinceID            *string           `json:"province_id"`
	DistrictID            *string           `json:"district_id"`
	BankAccountName       *string           `json:"bank_account_name"`
	BankAccountNumber     *string           `json:"bank_account_number"`
	BankName              *string           `json:"bank_name"`
	FooterCopyright       *string           `json:"footer_copyright"`
	TrackingScripts       map[string]string `json:"tracking_scripts"`
	DefaultShippingFee    float64           `json:"default_shipping_fee"`
	FreeShippingThreshold *float64          `json:"free_shipping_threshold"`
	IsActive              bool              `json:"is_active"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func mapShopResponse(shop model.Shop) shopResponse {
	return shopResponse{
		ShopID:                shop.ShopID,
		Name:                  shop.Name,
		Subdomain:             shop.Subdomain,
		LogoURL:               shop.LogoURL,
		Hotline:               shop.Hotline,
		Address:               shop.Address,
		ProvinceID:            shop.ProvinceID,
		DistrictID:            shop.DistrictID,
		BankAccountName:       shop.BankAccountName,
		BankAccountNumber:     shop.BankAccountNumber,
		BankName:              shop.BankName,
		FooterCopyright:       shop.FooterCopyright,
		TrackingScripts:       shop.TrackingScripts,
		DefaultShippingFee:    shop.DefaultShippingFee,
		FreeShippingThreshold: shop.FreeShippingThreshold,
		IsActive:              shop.IsActive,
		CreatedAt:             shop.CreatedAt,
		UpdatedAt:             shop.UpdatedAt,
	}
}

func (s *Server) handleCreateShop(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())

	var req createShopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Subdomain = strings.ToLower(strings.TrimSpace(req.Subdomain))

	var details []fieldError
	if req.Name == "" {
		details = append(details, fieldError{Field: "name", Message: "field required", Type: "missing"})
	}
	if req.Subdomain == "" {
		details = append(details, fieldError{Field: "subdomain", Message: "field required", Type: "missing"})
	}
	if len(details) > 0 {
		writeValidationError(w, r, details)
		return
	}

	hasShop, err := s.store.OwnerHasShop(r.Context(), current.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if hasShop {
		writeError(w, r, http.StatusBadRequest, "User already owns a shop")
		return
	}

	taken, err := s.store.SubdomainExists(r.Context(), req.Subdomain)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if taken {
		writeError(w, r, http.StatusBadRequest, "Subdomain already registered")
		return
	}

	shopID, err := crypto.NewPublicID(crypto.ShopIDLength)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	now := time.Now().UTC()
	shop := model.Shop{
		ShopID:    shopID,
		Name:      req.Name,
		Subdomain: req.Subdomain,
		OwnerID:   current.ID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.store.CreateShopForOwner(r.Context(), shop)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, r, http.StatusBadRequest, duplicateMessage(err))
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.invalidateShopCache(r.Context(), created.Subdomain)
	writeJSON(w, http.StatusCreated, mapShopResponse(created))
}

func (s *Server) handleGetMyShop(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())

	// The feature keys off the current role, not shop ownership: an owner
	// whose role was changed away by an admin loses access even though the
	// shop row still references them.
	if current.Role != model.RoleShopOwner {
		writeError(w, r, http.StatusForbidden, "User is not a shop owner")
		return
	}

	shop, err := s.store.GetShopByOwner(r.Context(), current.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, "Shop not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, mapShopResponse(shop))
}

// shopPublic is the storefront view of a shop: no banking or tracking data.
type shopPublic struct {
	ShopID          string  `json:"shopid"`
	Name            string  `json:"name"`
	LogoURL         *string `json:"logo_url"`
	FooterCopyright *string `json:"footer_copyright"`
}

func (s *Server) handleGetPublicShop(w http.ResponseWriter, r *http.Request) {
	subdomain := strings.TrimSpace(strings.ToLower(chi.URLParam(r, "subdomain")))
	if subdomain == "" {
		writeError(w, r, http.StatusBadRequest, "Missing subdomain")
		return
	}

	if cached, ok := s.cachedShop(r.Context(), subdomain); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	shop, err := s.store.GetShopBySubdomain(r.Context(), subdomain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, r, http.StatusNotFound, "Shop not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !shop.IsActive {
		writeError(w, r, http.StatusNotFound, "Shop not found")
		return
	}

	public := shopPublic{
		ShopID:          shop.ShopID,
		Name:            shop.Name,
		LogoURL:         shop.LogoURL,
		FooterCopyright: shop.FooterCopyright,
	}
	s.cacheShop(r.Context(), subdomain, public)
	writeJSON(w, http.StatusOK, public)
}

func shopCacheKey(subdomain string) string {
	return "shop:subdomain:" + subdomain
}

func (s *Server) cachedShop(ctx context.Context, subdomain string) (shopPublic, bool) {
	if s.redis == nil {
		return shopPublic{}, false
	}
	raw, err := s.redis.Get(ctx, shopCacheKey(subdomain)).Result()
	if err != nil {
		return shopPublic{}, false
	}
	var public shopPublic
	if err := json.Unmarshal([]byte(raw), &public); err != nil {
		return shopPublic{}, false
	}
	return public, true
}

func (s *Server) cacheShop(ctx context.Context, subdomain string, public shopPublic) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(public)
	if err != nil {
		return
	}
	_ = s.redis.Set(ctx, shopCacheKey(subdomain), data, s.cfg.ShopCacheTTL).Err()
}

func (s *Server) invalidateShopCache(ctx context.Context, subdomain string) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Del(ctx, shopCacheKey(subdomain)).Err()
}
