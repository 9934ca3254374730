package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed item store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, item *Item) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO items (id, seller_id, title, description, token_price, status, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7)
	`, item.ID, item.SellerID, item.Title, nullString(item.Description),
		item.TokenPrice, item.Status, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Item, error) {
	item := &Item{ID: id}
	var description sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT seller_id, title, description, token_price, status, created_at
		FROM items WHERE id = $1
	`, id).Scan(&item.SellerID, &item.Title, &description, &item.TokenPrice,
		&item.Status, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Description = description.String
	return item, nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Item, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, token_price, status, created_at
		FROM items
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item := &Item{SellerID: sellerID}
		var description sql.NullString
		if err := rows.Scan(&item.ID, &item.Title, &description, &item.TokenPrice,
			&item.Status, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Description = description.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
