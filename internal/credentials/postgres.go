package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL with secrets encrypted at
// rest.
type PostgresStore struct {
	db     *pgxpool.Pool
	cipher *Cipher
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, cipher *Cipher) *PostgresStore {
	return &PostgresStore{db: db, cipher: cipher}
}

// FindValid returns the active, usable credential for a pair.
func (s *PostgresStore) FindValid(ctx context.Context, companyID, marketplace string) (*Credentials, error) {
	var c Credentials
	var sealed string
	err := s.db.QueryRow(ctx, `
		SELECT company_id, marketplace, client_id, secret, token_expires_at, active, updated_at
		FROM marketplace_credentials
		WHERE company_id = $1 AND marketplace = $2 AND active = TRUE
	`, companyID, marketplace).Scan(&c.CompanyID, &c.Marketplace, &c.ClientID, &sealed,
		&c.TokenExpiresAt, &c.Active, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if c.Secret, err = s.cipher.Decrypt(sealed); err != nil {
		return nil, err
	}
	if !c.IsValid() {
		return nil, ErrNotFound
	}
	return &c, nil
}

// NeedsRefresh lists active credentials whose token expires within
// RefreshHorizon of now.
func (s *PostgresStore) NeedsRefresh(ctx context.Context, now time.Time) ([]*Credentials, error) {
	rows, err := s.db.Query(ctx, `
		SELECT company_id, marketplace, client_id, secret, token_expires_at, active, updated_at
		FROM marketplace_credentials
		WHERE active = TRUE
		  AND token_expires_at IS NOT NULL
		  AND token_expires_at <= $1
	`, now.Add(RefreshHorizon))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credentials
	for rows.Next() {
		var c Credentials
		var sealed string
		if err := rows.Scan(&c.CompanyID, &c.Marketplace, &c.ClientID, &sealed,
			&c.TokenExpiresAt, &c.Active, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credentials: %w", err)
		}
		if c.Secret, err = s.cipher.Decrypt(sealed); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Save creates or replaces a credential, sealing the secret.
func (s *PostgresStore) Save(ctx context.Context, c *Credentials) error {
	sealed, err := s.cipher.Encrypt(c.Secret)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO marketplace_credentials
			(company_id, marketplace, client_id, secret, token_expires_at, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (company_id, marketplace) DO UPDATE
		SET client_id = EXCLUDED.client_id,
		    secret = EXCLUDED.secret,
		    token_expires_at = EXCLUDED.token_expires_at,
		    active = EXCLUDED.active,
		    updated_at = NOW()
	`, c.CompanyID, c.Marketplace, c.ClientID, sealed, c.TokenExpiresAt, c.Active)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a credential.
func (s *PostgresStore) Deactivate(ctx context.Context, companyID, marketplace string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE marketplace_credentials
		SET active = FALSE, updated_at = NOW()
		WHERE company_id = $1 AND marketplace = $2
	`, companyID, marketplace)
	if err != nil {
		return fmt.Errorf("failed to deactivate credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
