package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smider/broker-service/internal/model"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres is the production Store over a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. The caller owns the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

const pgJobColumns = `id, customer_id, category, payload, hours, price_min, price_max, status,
	payment_hold_ref, lat, lng, address, created_at, updated_at`

func scanPGJob(row pgx.Row) (*model.Job, error) {
	var (
		j       model.Job
		payload []byte
		status  string
	)
	err := row.Scan(
		&j.ID, &j.CustomerID, &j.Category, &payload, &j.Hours, &j.PriceMin, &j.PriceMax, &status,
		&j.PaymentHoldRef, &j.Location.Lat, &j.Location.Lng, &j.Address, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if j.Status, err = model.ParseJobStatus(status); err != nil {
		return nil, err
	}
	j.Payload = payload
	return &j, nil
}

func (s *Postgres) CreateJob(ctx context.Context, j *model.Job) error {
	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+pgJobColumns+`)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID, j.CustomerID, string(j.Category), payload, j.Hours, j.PriceMin, j.PriceMax, string(j.Status),
		j.PaymentHoldRef, j.Location.Lat, j.Location.Lng, j.Address, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("createJob: %w", err)
	}
	return nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanPGJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getJob: %w", err)
	}
	return j, nil
}

func (s *Postgres) ListJobsByCustomer(ctx context.Context, customerID string) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgJobColumns+` FROM jobs WHERE customer_id = $1 ORDER BY created_at DESC, id DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listJobsByCustomer query: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		j, err := scanPGJob(rows)
		if err != nil {
			return nil, fmt.Errorf("listJobsByCustomer scan: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *Postgres) TransitionJob(ctx context.Context, id string, from, to model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transitionJob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *Postgres) SetPaymentHold(ctx context.Context, id, holdRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET payment_hold_ref = $1, updated_at = NOW() WHERE id = $2`,
		holdRef, id,
	)
	if err != nil {
		return fmt.Errorf("setPaymentHold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Contractors ─────────────────────────────────────────────────────────────

const pgContractorColumns = `id, company_name, org_nr, categories, lat, lng, service_radius_km, available`

func scanPGContractor(row pgx.Row) (*model.Contractor, error) {
	var (
		c        model.Contractor
		cats     []string
		lat, lng *float64
	)
	if err := row.Scan(&c.ID, &c.CompanyName, &c.OrgNr, &cats, &lat, &lng, &c.ServiceRadiusKm, &c.Available); err != nil {
		return nil, err
	}
	c.Categories = toCategories(cats)
	if lat != nil && lng != nil {
		c.Location = &model.Location{Lat: *lat, Lng: *lng}
	}
	return &c, nil
}

func (s *Postgres) UpsertContractor(ctx context.Context, c *model.Contractor) error {
	lat, lng := contractorCoords(c)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contractors (`+pgContractorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   company_name      = EXCLUDED.company_name,
		   org_nr            = EXCLUDED.org_nr,
		   categories        = EXCLUDED.categories,
		   lat               = EXCLUDED.lat,
		   lng               = EXCLUDED.lng,
		   service_radius_km = EXCLUDED.service_radius_km,
		   available         = EXCLUDED.available,
		   updated_at        = NOW()`,
		c.ID, c.CompanyName, c.OrgNr, fromCategories(c.Categories), lat, lng, c.ServiceRadiusKm, c.Available,
	)
	if err != nil {
		return fmt.Errorf("upsertContractor: %w", err)
	}
	return nil
}

func (s *Postgres) GetContractor(ctx context.Context, id string) (*model.Contractor, error) {
	c, err := scanPGContractor(s.pool.QueryRow(ctx, `SELECT `+pgContractorColumns+` FROM contractors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getContractor: %w", err)
	}
	return c, nil
}

func (s *Postgres) ListContractors(ctx context.Context) ([]model.Contractor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgContractorColumns+` FROM contractors ORDER BY company_name`)
	if err != nil {
		return nil, fmt.Errorf("listContractors query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Contractor, 0)
	for rows.Next() {
		c, err := scanPGContractor(rows)
		if err != nil {
			return nil, fmt.Errorf("listContractors scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ─── Offers ──────────────────────────────────────────────────────────────────

const pgOfferColumns = `id, job_id, contractor_id, status, expires_at, created_at, updated_at`

func scanPGOffer(row pgx.Row) (*model.Offer, error) {
	var o model.Offer
	if err := row.Scan(&o.ID, &o.JobID, &o.ContractorID, &o.Status, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Postgres) CreateOffers(ctx context.Context, offers []model.Offer) ([]model.Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("createOffers begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := make([]model.Offer, 0, len(offers))
	for _, o := range offers {
		tag, err := tx.Exec(ctx,
			`INSERT INTO job_offers (`+pgOfferColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (job_id, contractor_id) DO NOTHING`,
			o.ID, o.JobID, o.ContractorID, string(o.Status), o.ExpiresAt, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("createOffers insert: %w", err)
		}
		if tag.RowsAffected() == 1 {
			created = append(created, o)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("createOffers commit: %w", err)
	}
	return created, nil
}

func (s *Postgres) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	o, err := scanPGOffer(s.pool.QueryRow(ctx, `SELECT `+pgOfferColumns+` FROM job_offers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getOffer: %w", err)
	}
	return o, nil
}

func (s *Postgres) listOffers(ctx context.Context, op, query string, arg any) ([]model.Offer, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	out := make([]model.Offer, 0)
	for rows.Next() {
		o, err := scanPGOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Postgres) ListOffersByJob(ctx context.Context, jobID string) ([]model.Offer, error) {
	return s.listOffers(ctx, "listOffersByJob",
		`SELECT `+pgOfferColumns+` FROM job_offers WHERE job_id = $1 ORDER BY created_at, id`, jobID)
}

func (s *Postgres) ListOffersByContractor(ctx context.Context, contractorID string) ([]model.Offer, error) {
	return s.listOffers(ctx, "listOffersByContractor",
		`SELECT `+pgOfferColumns+` FROM job_offers WHERE contractor_id = $1 ORDER BY created_at DESC, id DESC`, contractorID)
}

func (s *Postgres) TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_offers SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transitionOffer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// AcceptOffer updates the job row first: concurrent acceptors for the same
// job queue on its row lock, and every loser re-evaluates status = 'searching'
// after the winner commits.
func (s *Postgres) AcceptOffer(ctx context.Context, jobID, offerID string, now time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(model.JobAssigned), jobID, string(model.JobSearching),
	)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrConflict
	}

	tag, err = tx.Exec(ctx,
		`UPDATE job_offers SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND job_id = $3 AND status = $4 AND expires_at > $5`,
		string(model.OfferAccepted), offerID, jobID, string(model.OfferPending), now,
	)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrConflict
	}

	tag, err = tx.Exec(ctx,
		`UPDATE job_offers SET status = $1, updated_at = NOW()
		 WHERE job_id = $2 AND status = $3 AND id <> $4`,
		string(model.OfferDeclined), jobID, string(model.OfferPending), offerID,
	)
	if err != nil {
		return 0, fmt.Errorf("acceptOffer decline others: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("acceptOffer commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) DeclinePendingOffers(ctx context.Context, jobID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_offers SET status = $1, updated_at = NOW() WHERE job_id = $2 AND status = $3`,
		string(model.OfferDeclined), jobID, string(model.OfferPending),
	)
	if err != nil {
		return 0, fmt.Errorf("declinePendingOffers: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) ExpireOffers(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_offers SET status = $1, updated_at = NOW() WHERE status = $2 AND expires_at < $3`,
		string(model.OfferExpired), string(model.OfferPending), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expireOffers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func toCategories(ss []string) []model.Category {
	out := make([]model.Category, 0, len(ss))
	for _, s := range ss {
		if c, err := model.ParseCategory(s); err == nil {
			out = append(out, c)
		}
	}
	return out
}

func fromCategories(cs []model.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func contractorCoords(c *model.Contractor) (lat, lng *float64) {
	if c.Location == nil {
		return nil, nil
	}
	la, ln := c.Location.Lat, c.Location.Lng
	return &la, &ln
}
