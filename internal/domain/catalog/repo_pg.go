package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const itemCols = `id, name, category, price, requires_consent, body_system, code, form, dosage`

// LoadReference reads the whole catalog_item table into an immutable Reference.
// The catalog is loaded once at startup and never refreshed mid-session.
func LoadReference(ctx context.Context, pool *pgxpool.Pool) (*Reference, error) {
	rows, err := pool.Query(ctx, `SELECT `+itemCols+` FROM catalog_item ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var category string
		if err := rows.Scan(&it.ID, &it.Name, &category, &it.Price, &it.RequiresConsent,
			&it.BodySystem, &it.Code, &it.Form, &it.Dosage); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		it.Category = Category(category)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return NewReference(items)
}

// Seed upserts items into catalog_item, preserving their slice order as sort_order.
func Seed(ctx context.Context, pool *pgxpool.Pool, items []Item) (int, error) {
	batch := &pgx.Batch{}
	for i, it := range items {
		if err := it.validate(); err != nil {
			return 0, err
		}
		batch.Queue(`
			INSERT INTO catalog_item (id, name, category, price, requires_consent, body_system, code, form, dosage, sort_order)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE SET name=$2, category=$3, price=$4, requires_consent=$5,
				body_system=$6, code=$7, form=$8, dosage=$9, sort_order=$10`,
			it.ID, it.Name, string(it.Category), it.Price, it.RequiresConsent,
			it.BodySystem, it.Code, it.Form, it.Dosage, i)
	}

	br := pool.SendBatch(ctx, batch)
	defer br.Close()
	for range items {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("seed catalog: %w", err)
		}
	}
	return len(items), nil
}
