package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"smider/broker-service/internal/db"
	"smider/broker-service/internal/model"
	"smider/broker-service/internal/store"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *store.SQLite {
	t.Helper()
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "broker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := store.NewSQLite(sqlDB)
	require.NoError(t, s.Migrate(ctx))
	// idempotent
	require.NoError(t, s.Migrate(ctx))
	return s
}

func seedJob(t *testing.T, s store.Store, id string, status model.JobStatus) *model.Job {
	t.Helper()
	j := &model.Job{
		ID:         id,
		CustomerID: "cust-1",
		Category:   model.CategoryElectrician,
		Payload:    json.RawMessage(`{"task_details":"bytte stikkontakt"}`),
		Hours:      2.5,
		PriceMin:   4650,
		PriceMax:   5775,
		Status:     status,
		Location:   model.Location{Lat: 59.91, Lng: 10.75},
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
	require.NoError(t, s.CreateJob(context.Background(), j))
	return j
}

func seedContractor(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.UpsertContractor(context.Background(), &model.Contractor{
		ID:          id,
		CompanyName: "Company " + id,
		Categories:  []model.Category{model.CategoryElectrician},
		Location:    &model.Location{Lat: 59.92, Lng: 10.76},
	}))
}

func offer(id, jobID, contractorID string, expires time.Time) model.Offer {
	return model.Offer{
		ID:           id,
		JobID:        jobID,
		ContractorID: contractorID,
		Status:       model.OfferPending,
		ExpiresAt:    expires,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
}

// seedOffers creates a searching job with one pending offer per contractor.
func seedOffers(t *testing.T, s store.Store, jobID string, contractors ...string) {
	t.Helper()
	seedJob(t, s, jobID, model.JobSearching)
	offers := make([]model.Offer, 0, len(contractors))
	for _, c := range contractors {
		seedContractor(t, s, c)
		offers = append(offers, offer(jobID+"-"+c, jobID, c, t0.Add(15*time.Minute)))
	}
	created, err := s.CreateOffers(context.Background(), offers)
	require.NoError(t, err)
	require.Len(t, created, len(contractors))
}

// ── Jobs ───────────────────────────────────────────────────────────────────

func TestJobs_RoundTripAndCAS(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedJob(t, s, "job-1", model.JobDraft)

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryElectrician, got.Category)
	assert.Equal(t, 5775, got.PriceMax)
	assert.JSONEq(t, `{"task_details":"bytte stikkontakt"}`, string(got.Payload))
	assert.Nil(t, got.PaymentHoldRef)
	assert.True(t, got.CreatedAt.Equal(t0))

	require.NoError(t, s.TransitionJob(ctx, "job-1", model.JobDraft, model.JobPendingPayment))
	assert.ErrorIs(t, s.TransitionJob(ctx, "job-1", model.JobDraft, model.JobManualReview), store.ErrConflict)

	require.NoError(t, s.SetPaymentHold(ctx, "job-1", "pi_123"))
	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPendingPayment, got.Status)
	require.NotNil(t, got.PaymentHoldRef)
	assert.Equal(t, "pi_123", *got.PaymentHoldRef)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetPaymentHold(ctx, "missing", "pi_x"), store.ErrNotFound)
}

func TestJobs_UnknownStoredStatusIsRejected(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedJob(t, s, "job-1", model.JobStatus("archived"))

	_, err := s.GetJob(ctx, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown job status "archived"`)

	_, err = s.ListJobsByCustomer(ctx, "cust-1")
	assert.Error(t, err)
}

func TestJobs_ListByCustomerNewestFirst(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		j := &model.Job{
			ID: id, CustomerID: "cust-1", Category: model.CategoryPainter, Status: model.JobDraft,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute), UpdatedAt: t0,
		}
		require.NoError(t, s.CreateJob(ctx, j))
	}
	require.NoError(t, s.CreateJob(ctx, &model.Job{ID: "other", CustomerID: "cust-2", Status: model.JobDraft, CreatedAt: t0, UpdatedAt: t0}))

	jobs, err := s.ListJobsByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
	assert.JSONEq(t, `{}`, string(jobs[0].Payload))
}

// ── Contractors ────────────────────────────────────────────────────────────

func TestContractors_UpsertKeepsOptionalFields(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	radius, available := 50.0, false

	require.NoError(t, s.UpsertContractor(ctx, &model.Contractor{ID: "c1", CompanyName: "Bare AS"}))
	require.NoError(t, s.UpsertContractor(ctx, &model.Contractor{
		ID: "c2", CompanyName: "Full AS", OrgNr: "912345678",
		Categories:      []model.Category{model.CategoryPlumber, model.CategoryTiling},
		Location:        &model.Location{Lat: 60.39, Lng: 5.32},
		ServiceRadiusKm: &radius,
		Available:       &available,
	}))

	bare, err := s.GetContractor(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, bare.Location)
	assert.Nil(t, bare.ServiceRadiusKm)
	assert.Nil(t, bare.Available)
	assert.Empty(t, bare.Categories)

	full, err := s.GetContractor(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, []model.Category{model.CategoryPlumber, model.CategoryTiling}, full.Categories)
	require.NotNil(t, full.Location)
	assert.InDelta(t, 60.39, full.Location.Lat, 1e-9)
	assert.Equal(t, 50.0, *full.ServiceRadiusKm)
	assert.False(t, *full.Available)

	// update in place
	require.NoError(t, s.UpsertContractor(ctx, &model.Contractor{ID: "c1", CompanyName: "Renamed AS"}))
	all, err := s.ListContractors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Full AS", all[0].CompanyName)
	assert.Equal(t, "Renamed AS", all[1].CompanyName)
}

// ── Offers ─────────────────────────────────────────────────────────────────

func TestCreateOffers_SkipsExistingPairs(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedOffers(t, s, "job-1", "c1")
	seedContractor(t, s, "c2")

	created, err := s.CreateOffers(ctx, []model.Offer{
		offer("dup", "job-1", "c1", t0.Add(time.Hour)),
		offer("new", "job-1", "c2", t0.Add(time.Hour)),
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "new", created[0].ID)

	offers, err := s.ListOffersByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	byContractor, err := s.ListOffersByContractor(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, byContractor, 1)
	assert.Equal(t, "job-1-c1", byContractor[0].ID)
	assert.True(t, byContractor[0].ExpiresAt.Equal(t0.Add(15*time.Minute)))
}

func TestAcceptOffer_DeclinesOthersAndAssignsJob(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedOffers(t, s, "job-1", "c1", "c2", "c3")

	declined, err := s.AcceptOffer(ctx, "job-1", "job-1-c2", t0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, declined)

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobAssigned, job.Status)

	offers, err := s.ListOffersByJob(ctx, "job-1")
	require.NoError(t, err)
	statuses := map[string]model.OfferStatus{}
	for _, o := range offers {
		statuses[o.ContractorID] = o.Status
	}
	assert.Equal(t, map[string]model.OfferStatus{
		"c1": model.OfferDeclined,
		"c2": model.OfferAccepted,
		"c3": model.OfferDeclined,
	}, statuses)

	// a second accept of any offer for the job conflicts
	_, err = s.AcceptOffer(ctx, "job-1", "job-1-c2", t0)
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = s.AcceptOffer(ctx, "job-1", "job-1-c1", t0)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestAcceptOffer_ExpiredOfferRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedOffers(t, s, "job-1", "c1", "c2")

	_, err := s.AcceptOffer(ctx, "job-1", "job-1-c1", t0.Add(16*time.Minute))
	assert.ErrorIs(t, err, store.ErrConflict)

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobSearching, job.Status, "job CAS must roll back")

	o, err := s.GetOffer(ctx, "job-1-c2")
	require.NoError(t, err)
	assert.Equal(t, model.OfferPending, o.Status)
}

func TestAcceptOffer_ConcurrentAcceptsHaveOneWinner(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	contractors := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	seedOffers(t, s, "job-1", contractors...)

	var wins, conflicts atomic.Int32
	var g errgroup.Group
	for _, c := range contractors {
		offerID := "job-1-" + c
		g.Go(func() error {
			_, err := s.AcceptOffer(ctx, "job-1", offerID, t0)
			switch err {
			case nil:
				wins.Add(1)
			case store.ErrConflict:
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, len(contractors)-1, conflicts.Load())

	offers, err := s.ListOffersByJob(ctx, "job-1")
	require.NoError(t, err)
	accepted := 0
	for _, o := range offers {
		if o.Status == model.OfferAccepted {
			accepted++
		} else {
			assert.Equal(t, model.OfferDeclined, o.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestExpireOffers(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedOffers(t, s, "job-1", "c1", "c2")
	require.NoError(t, s.TransitionOffer(ctx, "job-1-c2", model.OfferPending, model.OfferDeclined))

	n, err := s.ExpireOffers(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = s.ExpireOffers(ctx, t0.Add(16*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	o, err := s.GetOffer(ctx, "job-1-c1")
	require.NoError(t, err)
	assert.Equal(t, model.OfferExpired, o.Status)

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobSearching, job.Status)

	n, err = s.DeclinePendingOffers(ctx, "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
