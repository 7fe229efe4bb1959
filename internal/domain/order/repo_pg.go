package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/orderconsole/internal/domain/catalog"
	"github.com/ehr/orderconsole/internal/platform/db"
)

type ledgerPG struct{ pool *pgxpool.Pool }

func NewLedgerPG(pool *pgxpool.Pool) Ledger { return &ledgerPG{pool: pool} }

const orderCols = `id, patient_id, patient_name, total, status, timeframe, notes, surgical_routing,
	prescription_id, created_at, updated_at, ordered_at, cancelled_at`

func (r *ledgerPG) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var routing []byte
	err := row.Scan(&o.ID, &o.PatientID, &o.PatientName, &o.Total, &o.Status, &o.Timeframe, &o.Notes,
		&routing, &o.PrescriptionID, &o.CreatedAt, &o.UpdatedAt, &o.OrderedAt, &o.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(routing) > 0 {
		o.SurgicalRouting = &SurgicalRouting{}
		if err := json.Unmarshal(routing, o.SurgicalRouting); err != nil {
			return nil, fmt.Errorf("decode surgical routing: %w", err)
		}
	}
	return &o, nil
}

// Append writes the order, its line items and the prescription in one
// transaction.
func (r *ledgerPG) Append(ctx context.Context, o *Order, rx *Prescription) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		var routing []byte
		if o.SurgicalRouting != nil {
			var err error
			if routing, err = json.Marshal(o.SurgicalRouting); err != nil {
				return err
			}
		}
		_, err := q.Exec(ctx, `
			INSERT INTO clinical_order (id, patient_id, patient_name, total, status, timeframe, notes,
				surgical_routing, prescription_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
			o.ID, o.PatientID, o.PatientName, o.Total, o.Status, o.Timeframe, o.Notes,
			routing, o.PrescriptionID, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for i, li := range o.Items {
			batch.Queue(`
				INSERT INTO order_line_item (order_id, position, item_id, name, category, price)
				VALUES ($1,$2,NULLIF($3,''),$4,NULLIF($5,''),$6)`,
				o.ID, i, li.ItemID, li.Name, string(li.Category), li.Price)
		}
		if rx != nil {
			meds, err := json.Marshal(rx.Medications)
			if err != nil {
				return err
			}
			dx, err := json.Marshal(rx.Diagnoses)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO prescription (id, order_id, patient_id, medications, diagnoses, notes, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				rx.ID, rx.OrderID, rx.PatientID, meds, dx, rx.Notes, rx.CreatedAt)
		}
		if batch.Len() == 0 {
			return nil
		}
		return db.TxFromContext(ctx).SendBatch(ctx, batch).Close()
	})
}

func (r *ledgerPG) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	q := db.Conn(ctx, r.pool)
	o, err := r.scanOrder(q.QueryRow(ctx, `SELECT `+orderCols+` FROM clinical_order WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *ledgerPG) GetPrescription(ctx context.Context, orderID uuid.UUID) (*Prescription, error) {
	var rx Prescription
	var meds, dx []byte
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, order_id, patient_id, medications, diagnoses, notes, created_at
		FROM prescription WHERE order_id = $1`, orderID).
		Scan(&rx.ID, &rx.OrderID, &rx.PatientID, &meds, &dx, &rx.Notes, &rx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(meds, &rx.Medications); err != nil {
		return nil, fmt.Errorf("decode medications: %w", err)
	}
	if err := json.Unmarshal(dx, &rx.Diagnoses); err != nil {
		return nil, fmt.Errorf("decode diagnoses: %w", err)
	}
	return &rx, nil
}

func (r *ledgerPG) List(ctx context.Context, limit, offset int) ([]*Order, int, error) {
	return r.list(ctx, `TRUE`, nil, limit, offset)
}

func (r *ledgerPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Order, int, error) {
	return r.list(ctx, `patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *ledgerPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Order, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM clinical_order WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT `+orderCols+` FROM clinical_order WHERE %s
		ORDER BY seq DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadItems(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *ledgerPG) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(orders))
	byID := make(map[uuid.UUID]*Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = []LineItem{}
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT order_id, COALESCE(item_id, ''), name, COALESCE(category, ''), price
		FROM order_line_item WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var orderID uuid.UUID
		var li LineItem
		var category string
		if err := rows.Scan(&orderID, &li.ItemID, &li.Name, &category, &li.Price); err != nil {
			return fmt.Errorf("scan line item: %w", err)
		}
		li.Category = catalog.Category(category)
		if o := byID[orderID]; o != nil {
			o.Items = append(o.Items, li)
		}
	}
	return rows.Err()
}

func (r *ledgerPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	var column string
	switch to {
	case StatusOrdered:
		column = "ordered_at"
	case StatusCancelled:
		column = "cancelled_at"
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTransition, to)
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE clinical_order SET status = $3, updated_at = $4, `+column+` = $4
		WHERE id = $1 AND status = $2`, id, from, to, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx,
			`SELECT `+orderCols+` FROM clinical_order WHERE id = $1`, id)); err != nil {
			return err
		}
		return ErrStatusChanged
	}
	return nil
}
