package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/totebags/api/internal/domain"
	ppostgres "github.com/totebags/api/internal/platform/postgres"
	"github.com/totebags/api/internal/repositories"
)

const quoteColumns = `id, business_name, quantity, department, municipality, neighborhood, address,
	contact_phone, qr_type, qr_data, package, logo_url, status, created_at, updated_at`

// QuoteRepository stores B2B quotes.
type QuoteRepository struct {
	db *sql.DB
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)

// NewQuoteRepository constructs a Postgres-backed quote repository.
func NewQuoteRepository(db *sql.DB) (*QuoteRepository, error) {
	if db == nil {
		return nil, errors.New("quote repository requires database")
	}
	return &QuoteRepository{db: db}, nil
}

func (r *QuoteRepository) Insert(ctx context.Context, quote domain.Quote) error {
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO b2b_quotes (`+quoteColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		quote.ID, quote.BusinessName, quote.Quantity, quote.Department, quote.Municipality, quote.Neighborhood,
		quote.Address, quote.ContactPhone, string(quote.QRType), quote.QRData, string(quote.Package),
		quote.LogoURL, string(quote.Status), quote.CreatedAt, quote.UpdatedAt,
	)
	return ppostgres.WrapError("quotes.insert", err)
}

func (r *QuoteRepository) FindByID(ctx context.Context, quoteID string) (domain.Quote, error) {
	quote, err := scanQuote(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+quoteColumns+` FROM b2b_quotes WHERE id = $1`, quoteID))
	if err != nil {
		return domain.Quote{}, ppostgres.WrapError("quotes.find", err)
	}
	return quote, nil
}

// UpdateStatus sets the status and returns the stored quote. Setting the current status
// again leaves updated_at untouched.
func (r *QuoteRepository) UpdateStatus(ctx context.Context, quoteID string, status domain.QuoteStatus, updatedAt time.Time) (domain.Quote, error) {
	quote, err := scanQuote(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, `
UPDATE b2b_quotes
SET status = $2,
	updated_at = CASE WHEN status = $2 THEN updated_at ELSE $3 END
WHERE id = $1
RETURNING `+quoteColumns, quoteID, string(status), updatedAt))
	if err != nil {
		return domain.Quote{}, ppostgres.WrapError("quotes.update_status", err)
	}
	return quote, nil
}

// List returns every quote, newest first.
func (r *QuoteRepository) List(ctx context.Context) ([]domain.Quote, error) {
	rows, err := ppostgres.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+quoteColumns+` FROM b2b_quotes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, ppostgres.WrapError("quotes.list", err)
	}
	defer rows.Close()

	quotes := make([]domain.Quote, 0)
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, ppostgres.WrapError("quotes.list", err)
		}
		quotes = append(quotes, quote)
	}
	return quotes, ppostgres.WrapError("quotes.list", rows.Err())
}

func scanQuote(row rowScanner) (domain.Quote, error) {
	var (
		quote               domain.Quote
		qrType, pkg, status string
		logoURL             sql.NullString
	)
	if err := row.Scan(&quote.ID, &quote.BusinessName, &quote.Quantity, &quote.Department, &quote.Municipality,
		&quote.Neighborhood, &quote.Address, &quote.ContactPhone, &qrType, &quote.QRData, &pkg, &logoURL,
		&status, &quote.CreatedAt, &quote.UpdatedAt); err != nil {
		return domain.Quote{}, err
	}
	quote.QRType = domain.QRType(qrType)
	quote.Package = domain.QuotePackage(pkg)
	quote.Status = domain.QuoteStatus(status)
	quote.LogoURL = nullableString(logoURL)
	quote.CreatedAt = quote.CreatedAt.UTC()
	quote.UpdatedAt = quote.UpdatedAt.UTC()
	return quote, nil
}
