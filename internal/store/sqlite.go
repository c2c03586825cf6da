package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smider/broker-service/internal/model"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite is the embedded Store used for local runs and tests. Timestamps are
// stored as unix milliseconds. The *sql.DB must be limited to one open
// connection so transactions serialize.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an open database. The caller owns db.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nowMs() int64 { return time.Now().UnixMilli() }

// ─── Jobs ────────────────────────────────────────────────────────────────────

const sqliteJobColumns = `id, customer_id, category, payload, hours, price_min, price_max, status,
	payment_hold_ref, lat, lng, address, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scanner) (*model.Job, error) {
	var (
		j                    model.Job
		payload              string
		status               string
		holdRef              sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&j.ID, &j.CustomerID, &j.Category, &payload, &j.Hours, &j.PriceMin, &j.PriceMax, &status,
		&holdRef, &j.Location.Lat, &j.Location.Lng, &j.Address, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if j.Status, err = model.ParseJobStatus(status); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	if holdRef.Valid {
		j.PaymentHoldRef = &holdRef.String
	}
	j.CreatedAt, j.UpdatedAt = fromMs(createdAt), fromMs(updatedAt)
	return &j, nil
}

func (s *SQLite) CreateJob(ctx context.Context, j *model.Job) error {
	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+sqliteJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.CustomerID, string(j.Category), payload, j.Hours, j.PriceMin, j.PriceMax, string(j.Status),
		j.PaymentHoldRef, j.Location.Lat, j.Location.Lng, j.Address, ms(j.CreatedAt), ms(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("createJob: %w", err)
	}
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getJob: %w", err)
	}
	return j, nil
}

func (s *SQLite) ListJobsByCustomer(ctx context.Context, customerID string) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs WHERE customer_id = ? ORDER BY created_at DESC, id DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listJobsByCustomer query: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("listJobsByCustomer scan: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *SQLite) TransitionJob(ctx context.Context, id string, from, to model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), nowMs(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transitionJob: %w", err)
	}
	return expectOne(res, ErrConflict)
}

func (s *SQLite) SetPaymentHold(ctx context.Context, id, holdRef string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET payment_hold_ref = ?, updated_at = ? WHERE id = ?`,
		holdRef, nowMs(), id,
	)
	if err != nil {
		return fmt.Errorf("setPaymentHold: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// ─── Contractors ─────────────────────────────────────────────────────────────

const sqliteContractorColumns = `id, company_name, org_nr, categories, lat, lng, service_radius_km, available`

func scanSQLiteContractor(row scanner) (*model.Contractor, error) {
	var (
		c         model.Contractor
		cats      string
		lat, lng  sql.NullFloat64
		radius    sql.NullFloat64
		available sql.NullBool
	)
	if err := row.Scan(&c.ID, &c.CompanyName, &c.OrgNr, &cats, &lat, &lng, &radius, &available); err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(cats), &names); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	c.Categories = toCategories(names)
	if lat.Valid && lng.Valid {
		c.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if radius.Valid {
		c.ServiceRadiusKm = &radius.Float64
	}
	if available.Valid {
		c.Available = &available.Bool
	}
	return &c, nil
}

func (s *SQLite) UpsertContractor(ctx context.Context, c *model.Contractor) error {
	cats, err := json.Marshal(fromCategories(c.Categories))
	if err != nil {
		return fmt.Errorf("upsertContractor: %w", err)
	}
	lat, lng := contractorCoords(c)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contractors (`+sqliteContractorColumns+`, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   company_name      = excluded.company_name,
		   org_nr            = excluded.org_nr,
		   categories        = excluded.categories,
		   lat               = excluded.lat,
		   lng               = excluded.lng,
		   service_radius_km = excluded.service_radius_km,
		   available         = excluded.available,
		   updated_at        = excluded.updated_at`,
		c.ID, c.CompanyName, c.OrgNr, string(cats), lat, lng, c.ServiceRadiusKm, c.Available, nowMs(),
	)
	if err != nil {
		return fmt.Errorf("upsertContractor: %w", err)
	}
	return nil
}

func (s *SQLite) GetContractor(ctx context.Context, id string) (*model.Contractor, error) {
	c, err := scanSQLiteContractor(s.db.QueryRowContext(ctx, `SELECT `+sqliteContractorColumns+` FROM contractors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getContractor: %w", err)
	}
	return c, nil
}

func (s *SQLite) ListContractors(ctx context.Context) ([]model.Contractor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteContractorColumns+` FROM contractors ORDER BY company_name`)
	if err != nil {
		return nil, fmt.Errorf("listContractors query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Contractor, 0)
	for rows.Next() {
		c, err := scanSQLiteContractor(rows)
		if err != nil {
			return nil, fmt.Errorf("listContractors scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ─── Offers ──────────────────────────────────────────────────────────────────

const sqliteOfferColumns = `id, job_id, contractor_id, status, expires_at, created_at, updated_at`

func scanSQLiteOffer(row scanner) (*model.Offer, error) {
	var (
		o                               model.Offer
		expiresAt, createdAt, updatedAt int64
	)
	if err := row.Scan(&o.ID, &o.JobID, &o.ContractorID, &o.Status, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.ExpiresAt, o.CreatedAt, o.UpdatedAt = fromMs(expiresAt), fromMs(createdAt), fromMs(updatedAt)
	return &o, nil
}

func (s *SQLite) CreateOffers(ctx context.Context, offers []model.Offer) ([]model.Offer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("createOffers begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]model.Offer, 0, len(offers))
	for _, o := range offers {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO job_offers (`+sqliteOfferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (job_id, contractor_id) DO NOTHING`,
			o.ID, o.JobID, o.ContractorID, string(o.Status), ms(o.ExpiresAt), ms(o.CreatedAt), ms(o.UpdatedAt),
		)
		if err != nil {
			return nil, fmt.Errorf("createOffers insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			created = append(created, o)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("createOffers commit: %w", err)
	}
	return created, nil
}

func (s *SQLite) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	o, err := scanSQLiteOffer(s.db.QueryRowContext(ctx, `SELECT `+sqliteOfferColumns+` FROM job_offers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getOffer: %w", err)
	}
	return o, nil
}

func (s *SQLite) listOffers(ctx context.Context, op, query string, arg any) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	out := make([]model.Offer, 0)
	for rows.Next() {
		o, err := scanSQLiteOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *SQLite) ListOffersByJob(ctx context.Context, jobID string) ([]model.Offer, error) {
	return s.listOffers(ctx, "listOffersByJob",
		`SELECT `+sqliteOfferColumns+` FROM job_offers WHERE job_id = ? ORDER BY created_at, id`, jobID)
}

func (s *SQLite) ListOffersByContractor(ctx context.Context, contractorID string) ([]model.Offer, error) {
	return s.listOffers(ctx, "listOffersByContractor",
		`SELECT `+sqliteOfferColumns+` FROM job_offers WHERE contractor_id = ? ORDER BY created_at DESC, id DESC`, contractorID)
}

func (s *SQLite) TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_offers SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), nowMs(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transitionOffer: %w", err)
	}
	return expectOne(res, ErrConflict)
}

func (s *SQLite) AcceptOffer(ctx context.Context, jobID, offerID string, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := nowMs()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobAssigned), stamp, jobID, string(model.JobSearching),
	)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer job: %w", err)
	}
	if err := expectOne(res, ErrConflict); err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE job_offers SET status = ?, updated_at = ?
		 WHERE id = ? AND job_id = ? AND status = ? AND expires_at > ?`,
		string(model.OfferAccepted), stamp, offerID, jobID, string(model.OfferPending), ms(now),
	)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer offer: %w", err)
	}
	if err := expectOne(res, ErrConflict); err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE job_offers SET status = ?, updated_at = ? WHERE job_id = ? AND status = ? AND id <> ?`,
		string(model.OfferDeclined), stamp, jobID, string(model.OfferPending), offerID,
	)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer decline others: %w", err)
	}
	declined, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("acceptOffer commit: %w", err)
	}
	return declined, nil
}

func (s *SQLite) DeclinePendingOffers(ctx context.Context, jobID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_offers SET status = ?, updated_at = ? WHERE job_id = ? AND status = ?`,
		string(model.OfferDeclined), nowMs(), jobID, string(model.OfferPending),
	)
	if err != nil {
		return 0, fmt.Errorf("declinePendingOffers: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_offers SET status = ?, updated_at = ? WHERE status = ? AND expires_at < ?`,
		string(model.OfferExpired), nowMs(), string(model.OfferPending), ms(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expireOffers: %w", err)
	}
	return res.RowsAffected()
}

func expectOne(res sql.Result, miss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return miss
	}
	return nil
}
