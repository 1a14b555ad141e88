package repository

import (
	"context"

	"dropshop/backend/internal/model"
)

const shopColumns = `id, shopid, name, subdomain, owner_id, logo_url, hotline, address, province_id, district_id, bank_account_name, bank_account_number, bank_name, footer_copyright, tracking_scripts, default_shipping_fee, free_shipping_threshold, is_active, created_at, updated_at`

func scanShop(row interface{ Scan(dest ...any) error }) (model.Shop, error) {
	var shop model.Shop
	err := row.Scan(
		&shop.ID,
		&shop.ShopID,
		&shop.Name,
		&shop.Subdomain,
		&shop.OwnerID,
		&shop.LogoURL,
		&shop.Hotline,
		&shop.Address,
		&shop.ProvinceID,
		&shop.DistrictID,
		&shop.BankAccountName,
		&shop.BankAccountNumber,
		&shop.BankName,
		&shop.FooterCopyright,
		&shop.TrackingScripts,
		&shop.DefaultShippingFee,
		&shop.FreeShippingThreshold,
		&shop.IsActive,
		&shop.CreatedAt,
		&shop.UpdatedAt,
	)
	return shop, err
}

func (s *Store) GetShopByOwner(ctx context.Context, ownerID int64) (model.Shop, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE owner_id = $1
	`, ownerID)
	return scanShop(row)
}

func (s *Store) GetShopBySubdomain(ctx context.Context, subdomain string) (model.Shop, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE subdomain = $1
	`, subdomain)
	return scanShop(row)
}

func (s *Store) SubdomainExists(ctx context.Context, subdomain string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM shops WHERE subdomain = $1`, subdomain)
}

func (s *Store) OwnerHasShop(ctx context.Context, ownerID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shops WHERE owner_id = $1)`, ownerID).Scan(&exists)
	return exists, err
}

// CreateShopForOwner inserts the shop and promotes the owner to shop_owner in
// one transaction, so owning a shop and holding the role cannot drift apart
// on creation.
func (s *Store) CreateShopForOwner(ctx context.Context, shop model.Shop) (model.Shop, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Shop{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO shops (shopid, name, subdomain, owner_id, logo_url, hotline, address, province_id, district_id, bank_account_name, bank_account_number, bank_name, footer_copyright, tracking_scripts, default_shipping_fee, free_shipping_threshold, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id
	`,
		shop.ShopID,
		shop.Name,
		shop.Subdomain,
		shop.OwnerID,
		shop.LogoURL,
		shop.Hotline,
		shop.Address,
		shop.ProvinceID,
		shop.DistrictID,
		shop.BankAccountName,
		shop.BankAccountNumber,
		shop.BankName,
		shop.FooterCopyright,
		shop.TrackingScripts,
		shop.DefaultShippingFee,
		shop.FreeShippingThreshold,
		shop.IsActive,
		shop.CreatedAt,
		shop.UpdatedAt,
	)
	if err := row.Scan(&shop.ID); err != nil {
		return model.Shop{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET role = $1, updated_at = $2
		WHERE id = $3
	`, string(model.RoleShopOwner), shop.CreatedAt, shop.OwnerID); err != nil {
		return model.Shop{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Shop{}, err
	}
	return shop, nil
}
