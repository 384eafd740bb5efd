package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAccountExists is returned when a username or email is already taken.
var ErrAccountExists = errors.New("account already exists")

// ErrAccountNotFound is returned when no account matches.
var ErrAccountNotFound = errors.New("account not found")

// AdministratorRecord is an administrator login row.
type AdministratorRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// PartnerRecord is a business partner's login row joined with its business record.
type PartnerRecord struct {
	BusinessID   int64     `json:"id"`
	CompanyName  string    `json:"company_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountRepository defines persistence operations for portal logins.
type AccountRepository interface {
	FindAdministrator(ctx context.Context, username string) (*AdministratorRecord, error)
	FindPartner(ctx context.Context, email string) (*PartnerRecord, error)
	GetPartner(ctx context.Context, businessID int64) (*PartnerRecord, error)
	HasAdministrator(ctx context.Context) (bool, error)
	CreateAdministrator(ctx context.Context, username, passwordHash string) (int64, error)
	CreatePartner(ctx context.Context, companyName, email, passwordHash string) (int64, error)
	ListPartners(ctx context.Context, page, perPage int) ([]PartnerRecord, int, error)
}

// PgAccountRepository implements AccountRepository using pgxpool.
type PgAccountRepository struct {
	db *pgxpool.Pool
}

func NewPgAccountRepository(db *pgxpool.Pool) *PgAccountRepository {
	return &PgAccountRepository{db: db}
}

func (r *PgAccountRepository) FindAdministrator(ctx context.Context, username string) (*AdministratorRecord, error) {
	const q = `SELECT id, username, password_hash, created_at FROM administrators WHERE username=$1`
	var a AdministratorRecord
	if err := r.db.QueryRow(ctx, q, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *PgAccountRepository) FindPartner(ctx context.Context, email string) (*PartnerRecord, error) {
	const q = `SELECT id, company_name, email, password_hash, created_at FROM businesses WHERE lower(email)=lower($1)`
	var p PartnerRecord
	if err := r.db.QueryRow(ctx, q, strings.TrimSpace(email)).Scan(&p.BusinessID, &p.CompanyName, &p.Email, &p.PasswordHash, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PgAccountRepository) GetPartner(ctx context.Context, businessID int64) (*PartnerRecord, error) {
	const q = `SELECT id, company_name, email, created_at FROM businesses WHERE id=$1`
	var p PartnerRecord
	if err := r.db.QueryRow(ctx, q, businessID).Scan(&p.BusinessID, &p.CompanyName, &p.Email, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PgAccountRepository) HasAdministrator(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM administrators LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PgAccountRepository) CreateAdministrator(ctx context.Context, username, passwordHash string) (int64, error) {
	const q = `INSERT INTO administrators (username, password_hash) VALUES ($1,$2) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, username, passwordHash).Scan(&id); err != nil {
		return 0, duplicate(err)
	}
	return id, nil
}

func (r *PgAccountRepository) CreatePartner(ctx context.Context, companyName, email, passwordHash string) (int64, error) {
	const q = `INSERT INTO businesses (company_name, email, password_hash) VALUES ($1,$2,$3) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, strings.TrimSpace(companyName), strings.TrimSpace(email), passwordHash).Scan(&id); err != nil {
		return 0, duplicate(err)
	}
	return id, nil
}

// ListPartners returns paginated partners without password hash.
func (r *PgAccountRepository) ListPartners(ctx context.Context, page, perPage int) ([]PartnerRecord, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM businesses`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, company_name, email, created_at FROM businesses ORDER BY id LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]PartnerRecord, 0, perPage)
	for rows.Next() {
		var p PartnerRecord
		if err := rows.Scan(&p.BusinessID, &p.CompanyName, &p.Email, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountNotFound
	}
	return err
}

func duplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAccountExists
	}
	return err
}
