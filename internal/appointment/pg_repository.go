package appointment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository stores the schedule in Postgres. It implements AtomicReserver:
// the slot flip and appointment insert share one transaction.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	slotColumns = `provider_id, to_char(slot_date, 'YYYY-MM-DD'), start_time, end_time, state, coalesce(reserved_by, ''), hold, created_at, updated_at`

	appointmentColumns = `id, provider_id, to_char(slot_date, 'YYYY-MM-DD'), start_time, end_time, requester_id,
		contact_name, contact_email, contact_phone, reason, notes, pet, status, created_at, updated_at`

	pgUniqueViolation = "23505"
)

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var weekly []bool

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialization,
		&p.FeeCents,
		&p.Bio,
		&weekly,
		&p.AvgRating,
		&p.RatingCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, unavailable(err, "scan provider")
	}

	copy(p.Weekly[:], weekly)
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date string
	var hold []byte

	err := row.Scan(
		&s.ProviderID,
		&date,
		&s.Start,
		&s.End,
		&s.State,
		&s.ReservedBy,
		&hold,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, unavailable(err, "scan slot")
	}

	s.Date = Date(date)
	if len(hold) > 0 {
		var h Hold
		if err := json.Unmarshal(hold, &h); err != nil {
			return nil, errors.Wrap(err, "decode slot hold")
		}
		s.Hold = &h
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date string
	var pet []byte

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&date,
		&a.Start,
		&a.End,
		&a.RequesterID,
		&a.Contact.Name,
		&a.Contact.Email,
		&a.Contact.Phone,
		&a.Reason,
		&a.Notes,
		&pet,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, unavailable(err, "scan appointment")
	}

	a.Date = Date(date)
	if len(pet) > 0 {
		var p PetProfile
		if err := json.Unmarshal(pet, &p); err != nil {
			return nil, errors.Wrap(err, "decode pet profile")
		}
		a.Pet = &p
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Interface methods

func (r *PgRepository) UpsertProvider(ctx context.Context, p Provider) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, name, specialization, fee_cents, bio, weekly, avg_rating, rating_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialization = EXCLUDED.specialization,
		    fee_cents = EXCLUDED.fee_cents,
		    bio = EXCLUDED.bio,
		    weekly = EXCLUDED.weekly,
		    updated_at = now()
	`, p.ID, p.Name, p.Specialization, p.FeeCents, p.Bio, p.Weekly[:], p.AvgRating, p.RatingCount)
	return unavailable(err, "upsert provider")
}

func (r *PgRepository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialization, fee_cents, bio, weekly, avg_rating, rating_count
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialization, fee_cents, bio, weekly, avg_rating, rating_count
		FROM providers
		ORDER BY id
	`)
	if err != nil {
		return nil, unavailable(err, "list providers")
	}
	defer rows.Close()

	result := []Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "list providers")
	}
	return result, nil
}

func (r *PgRepository) InsertSlotIfAbsent(ctx context.Context, slot Slot) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO slots (provider_id, slot_date, start_time, end_time, state, created_at, updated_at)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id, slot_date, start_time) DO NOTHING
	`, slot.ProviderID, slot.Date.String(), slot.Start, slot.End, slot.State, slot.CreatedAt, slot.UpdatedAt)
	if err != nil {
		return false, unavailable(err, "insert slot")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, key SlotKey) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1 AND slot_date = $2::date AND start_time = $3
	`, key.ProviderID, key.Date.String(), key.Start)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, providerID string, date Date, state SlotState) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1 AND slot_date = $2::date AND state = $3
		ORDER BY start_time
	`, providerID, date.String(), state)
	if err != nil {
		return nil, unavailable(err, "list slots")
	}
	defer rows.Close()

	result := []Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "list slots")
	}
	return result, nil
}

// reserveSlot runs the conditional flip on q, which is the pool or a transaction.
func reserveSlot(ctx context.Context, q pgxQuerier, key SlotKey, hold Hold) (*Slot, error) {
	holdJSON, err := json.Marshal(hold)
	if err != nil {
		return nil, errors.Wrap(err, "encode hold")
	}

	row := q.QueryRow(ctx, `
		UPDATE slots
		SET state = 'reserved',
		    reserved_by = $4,
		    hold = $5,
		    updated_at = $6
		WHERE provider_id = $1 AND slot_date = $2::date AND start_time = $3
		  AND state = 'free'
		RETURNING `+slotColumns,
		key.ProviderID, key.Date.String(), key.Start, hold.RequesterID, holdJSON, hold.HeldAt)

	slot, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		// Precondition failed: the slot is either gone or already reserved.
		var exists bool
		if err := q.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM slots WHERE provider_id = $1 AND slot_date = $2::date AND start_time = $3)
		`, key.ProviderID, key.Date.String(), key.Start).Scan(&exists); err != nil {
			return nil, unavailable(err, "check slot")
		}
		if exists {
			return nil, ErrSlotConflict
		}
		return nil, ErrSlotNotFound
	}
	return slot, err
}

func insertAppointment(ctx context.Context, q pgxQuerier, a Appointment) error {
	var pet []byte
	if a.Pet != nil {
		var err error
		if pet, err = json.Marshal(a.Pet); err != nil {
			return errors.Wrap(err, "encode pet profile")
		}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO appointments (`+insertAppointmentColumns+`)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.ProviderID, a.Date.String(), a.Start, a.End, a.RequesterID,
		a.Contact.Name, a.Contact.Email, a.Contact.Phone, a.Reason, a.Notes, pet,
		a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Another appointment already references this slot.
			return ErrSlotConflict
		}
		return unavailable(err, "insert appointment")
	}
	return nil
}

const insertAppointmentColumns = `id, provider_id, slot_date, start_time, end_time, requester_id,
	contact_name, contact_email, contact_phone, reason, notes, pet, status, created_at, updated_at`

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PgRepository) ReserveSlot(ctx context.Context, key SlotKey, hold Hold) (*Slot, error) {
	return reserveSlot(ctx, r.pool, key, hold)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) error {
	return insertAppointment(ctx, r.pool, a)
}

// ReserveWithAppointment commits the slot flip and the appointment together.
func (r *PgRepository) ReserveWithAppointment(ctx context.Context, key SlotKey, hold Hold) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable(err, "begin reservation")
	}
	defer tx.Rollback(ctx)

	if _, err := reserveSlot(ctx, tx, key, hold); err != nil {
		return nil, err
	}
	if err := insertAppointment(ctx, tx, hold.Appointment); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable(err, "commit reservation")
	}

	appt := hold.Appointment
	return &appt, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListOrphanedHolds(ctx context.Context, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots s
		WHERE s.state = 'reserved'
		  AND s.hold IS NOT NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments a
		      WHERE a.id = (s.hold->'appointment'->>'id')::uuid
		  )
		ORDER BY s.updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, unavailable(err, "list orphaned holds")
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "list orphaned holds")
	}
	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var date *string
	if ev.Date != "" {
		d := ev.Date.String()
		date = &d
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, provider_id, slot_date, start_time, appointment_id, payload, created_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, COALESCE($7, now()))
	`, ev.EventType, ev.ProviderID, date, ev.Start, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return unavailable(err, "insert event log")
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
