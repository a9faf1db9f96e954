package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"postline/internal/domain"
)

// GetClient возвращает клиента по идентификатору.
func (p *Postgres) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var client domain.Client
	err := p.pool.QueryRow(ctx, `
SELECT id, owner_user_id, name, created_at FROM clients WHERE id = $1
`, id).Scan(&client.ID, &client.OwnerUserID, &client.Name, &client.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Client{}, domain.ErrNotFound
	}
	return client, err
}

// UpsertConnection создаёт или обновляет подключение по ключу
// (client_id, platform, external_account_id). Повторная авторизация того же
// аккаунта заменяет токены и реактивирует подключение.
func (p *Postgres) UpsertConnection(ctx context.Context, conn domain.PlatformConnection) (domain.PlatformConnection, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var expiresAt sql.NullTime
	if conn.TokenExpiresAt != nil {
		expiresAt = sql.NullTime{Time: conn.TokenExpiresAt.UTC(), Valid: true}
	}

	err := p.pool.QueryRow(ctx, `
INSERT INTO platform_connections
    (client_id, platform, external_account_id, external_account_name, access_token_enc, refresh_token_enc, token_expires_at, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
ON CONFLICT (client_id, platform, external_account_id) DO UPDATE SET
    external_account_name = EXCLUDED.external_account_name,
    access_token_enc = EXCLUDED.access_token_enc,
    refresh_token_enc = EXCLUDED.refresh_token_enc,
    token_expires_at = EXCLUDED.token_expires_at,
    is_active = TRUE,
    last_error = '',
    updated_at = now()
RETURNING id, is_active, last_error, created_at, updated_at
`, conn.ClientID, conn.Platform, conn.ExternalAccountID, conn.ExternalAccountName, conn.AccessTokenEnc, conn.RefreshTokenEnc, expiresAt).
		Scan(&conn.ID, &conn.IsActive, &conn.LastError, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return domain.PlatformConnection{}, fmt.Errorf("upsert подключения: %w", err)
	}
	return conn, nil
}

// GetConnection возвращает подключение по идентификатору.
func (p *Postgres) GetConnection(ctx context.Context, id int64) (domain.PlatformConnection, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		conn      domain.PlatformConnection
		expiresAt sql.NullTime
	)
	err := p.pool.QueryRow(ctx, `
SELECT id, client_id, platform, external_account_id, external_account_name,
       access_token_enc, refresh_token_enc, token_expires_at, is_active, last_error, created_at, updated_at
FROM platform_connections WHERE id = $1
`, id).Scan(&conn.ID, &conn.ClientID, &conn.Platform, &conn.ExternalAccountID, &conn.ExternalAccountName,
		&conn.AccessTokenEnc, &conn.RefreshTokenEnc, &expiresAt, &conn.IsActive, &conn.LastError, &conn.CreatedAt, &conn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlatformConnection{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PlatformConnection{}, err
	}
	if expiresAt.Valid {
		ts := expiresAt.Time
		conn.TokenExpiresAt = &ts
	}
	return conn, nil
}

// ListClientConnections возвращает подключения клиента.
func (p *Postgres) ListClientConnections(ctx context.Context, clientID int64) ([]domain.PlatformConnection, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT id, client_id, platform, external_account_id, external_account_name,
       access_token_enc, refresh_token_enc, token_expires_at, is_active, last_error, created_at, updated_at
FROM platform_connections WHERE client_id = $1
ORDER BY id
`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.PlatformConnection
	for rows.Next() {
		var (
			conn      domain.PlatformConnection
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&conn.ID, &conn.ClientID, &conn.Platform, &conn.ExternalAccountID, &conn.ExternalAccountName,
			&conn.AccessTokenEnc, &conn.RefreshTokenEnc, &expiresAt, &conn.IsActive, &conn.LastError, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			ts := expiresAt.Time
			conn.TokenExpiresAt = &ts
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// UpdateConnectionTokens записывает обновлённые токены после refresh.
// Запись идёт до использования токена, чтобы параллельные задачи
// читали уже обновлённые реквизиты.
func (p *Postgres) UpdateConnectionTokens(ctx context.Context, id int64, accessEnc, refreshEnc string, expiresAt *time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var expires sql.NullTime
	if expiresAt != nil {
		expires = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}
	_, err := p.pool.Exec(ctx, `
UPDATE platform_connections
SET access_token_enc = $2, refresh_token_enc = COALESCE(NULLIF($3,''), refresh_token_enc),
    token_expires_at = $4, last_error = '', updated_at = now()
WHERE id = $1
`, id, accessEnc, refreshEnc, expires)
	return err
}

// DeactivateConnection отключает подключение с указанием причины.
// Подключения никогда не удаляются.
func (p *Postgres) DeactivateConnection(ctx context.Context, id int64, reason string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
UPDATE platform_connections SET is_active = FALSE, last_error = $2, updated_at = now() WHERE id = $1
`, id, reason)
	return err
}
