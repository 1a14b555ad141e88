package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropshop/backend/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// IsUniqueViolation reports whether err is a storage-level unique-constraint
// failure. Uniqueness is pre-checked before every write, but the constraint
// stays authoritative for races between concurrent requests.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const accountColumns = `id, uid, full_name, email, phone_number, national_id, password_hash, avatar_url, role, is_active, created_at, updated_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (model.Account, error) {
	var account model.Account
	var role string
	err := row.Scan(
		&account.ID,
		&account.UID,
		&account.FullName,
		&account.Email,
		&account.PhoneNumber,
		&account.NationalID,
		&account.PasswordHash,
		&account.AvatarURL,
		&role,
		&account.IsActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	account.Role = model.Role(role)
	return account, err
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM users
		WHERE email = $1
	`, email)
	return scanAccount(row)
}

func (s *Store) GetAccountByUID(ctx context.Context, uid string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM users
		WHERE uid = $1
	`, uid)
	return scanAccount(row)
}

func (s *Store) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (uid, full_name, email, phone_number, national_id, password_hash, avatar_url, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		account.UID,
		account.FullName,
		account.Email,
		account.PhoneNumber,
		account.NationalID,
		account.PasswordHash,
		account.AvatarURL,
		string(account.Role),
		account.IsActive,
		account.CreatedAt,
		account.UpdatedAt,
	)
	err := row.Scan(&account.ID)
	return account, err
}

// ListFilter narrows the account listing. Search matches name and email
// case-insensitively; Role filters on the exact enum value when set.
type ListFilter struct {
	Search string
	Role   *model.Role
	Limit  int
	Offset int
}

func (f ListFilter) where() (string, []any) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR email ILIKE $%d)", idx, idx))
	}
	if f.Role != nil {
		args = append(args, string(*f.Role))
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *Store) CountAccounts(ctx context.Context, filter ListFilter) (int, error) {
	where, args := filter.where()
	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total)
	return total, err
}

func (s *Store) ListAccounts(ctx context.Context, filter ListFilter) ([]model.Account, error) {
	where, args := filter.where()
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT `+accountColumns+`
		FROM users%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]model.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// AccountUpdate is a patch: nil means leave the column alone.
type AccountUpdate struct {
	FullName     *string
	Email        *string
	PhoneNumber  *string
	NationalID   *string
	Role         *model.Role
	IsActive     *bool
	PasswordHash *string
	AvatarURL    *string
}

func (s *Store) UpdateAccount(ctx context.Context, uid string, update AccountUpdate) (model.Account, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.FullName != nil {
		add("full_name", *update.FullName)
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.PhoneNumber != nil {
		add("phone_number", *update.PhoneNumber)
	}
	if update.NationalID != nil {
		add("national_id", *update.NationalID)
	}
	if update.Role != nil {
		add("role", string(*update.Role))
	}
	if update.IsActive != nil {
		add("is_active", *update.IsActive)
	}
	if update.PasswordHash != nil {
		add("password_hash", *update.PasswordHash)
	}
	if update.AvatarURL != nil {
		add("avatar_url", *update.AvatarURL)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, uid)
	query := fmt.Sprintf(`
		UPDATE users
		SET %s
		WHERE uid = $%d
		RETURNING `+accountColumns+`
	`, strings.Join(sets, ", "), len(args))

	return scanAccount(s.pool.QueryRow(ctx, query, args...))
}

func (s *Store) DeleteAccount(ctx context.Context, uid string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE uid = $1`, uid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, uid string, isActive bool) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET is_active = $1, updated_at = $2
		WHERE uid = $3
		RETURNING `+accountColumns+`
	`, isActive, time.Now().UTC(), uid)
	return scanAccount(row)
}

func (s *Store) UpdateAccountPassword(ctx context.Context, uid, passwordHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE uid = $3
	`, passwordHash, time.Now().UTC(), uid)
	return err
}

func (s *Store) UpdateAccountAvatar(ctx context.Context, uid string, avatarURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET avatar_url = $1, updated_at = $2
		WHERE uid = $3
	`, avatarURL, time.Now().UTC(), uid)
	return err
}

// The *Exists probes implement the uniqueness gates. excludeUID keeps the
// target account itself out of the check on updates.
func (s *Store) EmailExists(ctx context.Context, email, excludeUID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE email = $1 AND ($2 = '' OR uid <> $2)`, email, excludeUID)
}

func (s *Store) PhoneExists(ctx context.Context, phone, excludeUID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE phone_number = $1 AND ($2 = '' OR uid <> $2)`, phone, excludeUID)
}

func (s *Store) NationalIDExists(ctx context.Context, nationalID, excludeUID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE national_id = $1 AND ($2 = '' OR uid <> $2)`, nationalID, excludeUID)
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (`+query+`)`, args...).Scan(&exists)
	return exists, err
}
