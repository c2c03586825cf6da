package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"smider/broker-service/internal/events"
	"smider/broker-service/internal/intake"
	"smider/broker-service/internal/matching"
	"smider/broker-service/internal/model"
	"smider/broker-service/internal/payment"
	"smider/broker-service/internal/pricing"
	"smider/broker-service/internal/store"
)

// ─── Configuration ───────────────────────────────────────────────────────────

// Settings tunes the dispatch rules.
type Settings struct {
	OfferWindow        time.Duration  // default 15m
	HighValueThreshold int            // priceMax above this goes to manual review; default 100000
	Currency           string         // default NOK
	DefaultLocation    model.Location // used when the payload has no coordinates
	// DemoMode auto-accepts, through the normal accept path, the offer of the
	// nearest matched contractor whose company name contains a DemoMarker.
	DemoMode    bool
	DemoMarkers []string
	Now         func() time.Time
}

func (c *Settings) applyDefaults() {
	if c.OfferWindow <= 0 {
		c.OfferWindow = 15 * time.Minute
	}
	if c.HighValueThreshold <= 0 {
		c.HighValueThreshold = 100000
	}
	if c.Currency == "" {
		c.Currency = "NOK"
	}
	if c.DefaultLocation == (model.Location{}) {
		c.DefaultLocation = model.Location{Lat: 59.9139, Lng: 10.7522}
	}
	if len(c.DemoMarkers) == 0 {
		c.DemoMarkers = []string{"Dummy", "Elara"}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Deps are the collaborators of the Service.
type Deps struct {
	Store    store.Store
	Matcher  *matching.Engine
	Intake   *intake.Controller
	Pricing  *pricing.Engine
	Payments payment.Authorizer
	Events   events.Publisher
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates the dispatch business logic.
// It has no dependency on net/http; both transport layers use it.
// It keeps no job or offer state between calls; every action re-reads the store.
type Service struct {
	store    store.Store
	matcher  *matching.Engine
	intake   *intake.Controller
	pricing  *pricing.Engine
	payments payment.Authorizer
	events   events.Publisher
	cfg      Settings
}

// NewService returns a configured Service.
func NewService(d Deps, cfg Settings) *Service {
	cfg.applyDefaults()
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Service{
		store:    d.Store,
		matcher:  d.Matcher,
		intake:   d.Intake,
		pricing:  d.Pricing,
		payments: d.Payments,
		events:   d.Events,
		cfg:      cfg,
	}
}

// ─── Result types ────────────────────────────────────────────────────────────

// CreateJobResult is returned by CreateJob.
type CreateJobResult struct {
	Job             *model.Job       `json:"job"`
	Estimate        pricing.Estimate `json:"estimate"`
	PaymentRequired bool             `json:"paymentRequired"`
	ManualReview    bool             `json:"manualReview"`
	ClientSecret    string           `json:"clientSecret,omitempty"`
}

// DispatchResult describes the offers created for a job.
type DispatchResult struct {
	JobID        string        `json:"jobId"`
	Status       string        `json:"status"`
	Offers       []model.Offer `json:"offers"`
	AutoAccepted string        `json:"autoAcceptedOfferId,omitempty"`
}

// OfferView is an offer as the customer sees it.
type OfferView struct {
	ID           string            `json:"id"`
	ContractorID string            `json:"contractorId"`
	CompanyName  string            `json:"companyName"`
	Status       model.OfferStatus `json:"status"`
	ExpiresAt    time.Time         `json:"expiresAt"`
}

// JobView is a job with its offers.
type JobView struct {
	model.Job
	Offers []OfferView `json:"offers"`
}

// ContractorOffer is an offer as the contractor sees it.
type ContractorOffer struct {
	ID        string            `json:"id"`
	JobID     string            `json:"jobId"`
	Status    model.OfferStatus `json:"status"`
	ExpiresAt time.Time         `json:"expiresAt"`
	CreatedAt time.Time         `json:"createdAt"`
	Category  model.Category    `json:"category"`
	Hours     float64           `json:"hours"`
	PriceMin  int               `json:"priceMin"`
	PriceMax  int               `json:"priceMax"`
	Address   string            `json:"address,omitempty"`
	JobStatus model.JobStatus   `json:"jobStatus"`
}

// ─── Job lifecycle ───────────────────────────────────────────────────────────

// CreateJob validates and prices the payload server-side, stores the job and
// either routes it to manual review (high value) or places a payment hold.
// A failed hold returns *PaymentError; the job then stays pending_payment.
func (s *Service) CreateJob(ctx context.Context, customerID string, category string, p *model.Payload) (*CreateJobResult, error) {
	if customerID == "" {
		return nil, &ValidationError{Msg: "customer id is required"}
	}
	if p == nil {
		p = &model.Payload{}
	}
	if category == "" {
		category = model.Str(p.Category)
	}
	if category == "" {
		return nil, &ValidationError{Msg: "category is required", Fields: []string{intake.FieldCategory}}
	}
	cat, err := model.ParseCategory(category)
	if err != nil {
		return nil, &intake.UnsupportedCategoryError{Category: category}
	}

	// Meta fields are not job facts.
	snapshot := *p
	snapshot.UserQuestion = nil
	canonical := string(cat)
	snapshot.Category = &canonical

	if missing := s.intake.Missing(cat, &snapshot); len(missing) > 0 {
		return nil, &ValidationError{Msg: "job description is incomplete", Fields: missing}
	}

	est := s.pricing.Estimate(cat, &snapshot)
	payload, err := json.Marshal(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("createJob marshal payload: %w", err)
	}

	loc := s.cfg.DefaultLocation
	if snapshot.Latitude != nil && snapshot.Longitude != nil {
		loc = model.Location{Lat: *snapshot.Latitude, Lng: *snapshot.Longitude}
	}

	now := s.cfg.Now().UTC()
	job := &model.Job{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Category:   cat,
		Payload:    payload,
		Hours:      est.Hours,
		PriceMin:   est.PriceMin,
		PriceMax:   est.PriceMax,
		Status:     model.JobDraft,
		Location:   loc,
		Address:    model.Str(snapshot.Address),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("createJob: %w", err)
	}

	res := &CreateJobResult{Job: job, Estimate: est}

	if est.PriceMax > s.cfg.HighValueThreshold {
		if err := s.transition(ctx, job, model.JobManualReview); err != nil {
			return nil, err
		}
		slog.Info("dispatch: job routed to manual review", "jobId", job.ID, "priceMax", est.PriceMax)
		res.ManualReview = true
		return res, nil
	}

	if err := s.transition(ctx, job, model.JobPendingPayment); err != nil {
		return nil, err
	}
	res.PaymentRequired = true

	hold, err := s.payments.Authorize(ctx, est.PriceMax, s.cfg.Currency, job.ID)
	if err != nil {
		return nil, &PaymentError{JobID: job.ID, Msg: "could not place payment hold", Err: err}
	}
	if err := s.store.SetPaymentHold(ctx, job.ID, hold.Ref); err != nil {
		return nil, fmt.Errorf("createJob set hold: %w", err)
	}
	job.PaymentHoldRef = &hold.Ref
	res.ClientSecret = hold.ClientSecret
	return res, nil
}

// ConfirmPayment checks the job's payment hold and, when it is authorized,
// moves the job to searching and dispatches offers. A canceled or
// unauthorized hold returns *PaymentError and the job does not progress.
func (s *Service) ConfirmPayment(ctx context.Context, customerID, jobID string) (*DispatchResult, error) {
	job, err := s.ownedJob(ctx, customerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobPendingPayment {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, job.Status, model.JobSearching)
	}
	if job.PaymentHoldRef == nil {
		return nil, &PaymentError{JobID: job.ID, Msg: "no payment hold for job"}
	}

	st, err := s.payments.Status(ctx, *job.PaymentHoldRef)
	if err != nil {
		return nil, &PaymentError{JobID: job.ID, Msg: "could not verify payment hold", Err: err}
	}
	switch st {
	case payment.HoldCanceled:
		return nil, &PaymentError{JobID: job.ID, Msg: "payment hold was canceled"}
	case payment.HoldAuthorized:
	default:
		return nil, &PaymentError{JobID: job.ID, Msg: "payment is not authorized yet"}
	}

	if err := s.transition(ctx, job, model.JobSearching); err != nil {
		return nil, err
	}
	return s.dispatch(ctx, job)
}

// Redispatch re-runs matching for a searching job that has no live offers,
// offering it to contractors that have not had an offer for it yet.
func (s *Service) Redispatch(ctx context.Context, customerID, jobID string) (*DispatchResult, error) {
	job, err := s.ownedJob(ctx, customerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobSearching {
		return nil, fmt.Errorf("%w: job is %s, not %s", ErrInvalidTransition, job.Status, model.JobSearching)
	}

	offers, err := s.store.ListOffersByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("redispatch: %w", err)
	}
	now := s.cfg.Now()
	for _, o := range offers {
		if o.EffectiveStatus(now) == model.OfferPending {
			return nil, fmt.Errorf("%w: job still has pending offers", ErrInvalidTransition)
		}
	}
	return s.dispatch(ctx, job)
}

// dispatch creates one pending offer per matched contractor. Zero candidates
// leaves the job searching with no offers; that is not an error.
func (s *Service) dispatch(ctx context.Context, job *model.Job) (*DispatchResult, error) {
	matches, err := s.matcher.FindProviders(ctx, job.Category, job.Location.Lat, job.Location.Lng)
	if err != nil {
		return nil, fmt.Errorf("dispatch match: %w", err)
	}

	existing, err := s.store.ListOffersByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	offered := make(map[string]bool, len(existing))
	for _, o := range existing {
		offered[o.ContractorID] = true
	}

	now := s.cfg.Now().UTC()
	expires := now.Add(s.cfg.OfferWindow)
	offers := make([]model.Offer, 0, len(matches))
	for _, m := range matches {
		if offered[m.Contractor.ID] {
			continue
		}
		offers = append(offers, model.Offer{
			ID:           uuid.NewString(),
			JobID:        job.ID,
			ContractorID: m.Contractor.ID,
			Status:       model.OfferPending,
			ExpiresAt:    expires,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	res := &DispatchResult{JobID: job.ID, Status: string(job.Status), Offers: []model.Offer{}}
	if len(offers) == 0 {
		slog.Info("dispatch: no candidates, job stays searching", "jobId", job.ID, "category", job.Category)
		return res, nil
	}

	created, err := s.store.CreateOffers(ctx, offers)
	if err != nil {
		return nil, fmt.Errorf("dispatch create offers: %w", err)
	}
	res.Offers = created
	slog.Info("dispatch: offers created", "jobId", job.ID, "offers", len(created))

	ids := make([]string, len(created))
	for i, o := range created {
		ids[i] = o.ContractorID
	}
	s.publish(ctx, events.ChannelOffersCreated, events.OffersCreated{
		Type:          events.ChannelOffersCreated,
		JobID:         job.ID,
		ContractorIDs: ids,
		ExpiresAt:     expires.Format(time.RFC3339),
	})

	if s.cfg.DemoMode {
		if o := s.demoOffer(matches, created); o != nil {
			if _, err := s.AcceptOffer(ctx, o.ContractorID, o.ID); err != nil {
				slog.Warn("dispatch: demo auto-accept failed", "offerId", o.ID, "err", err)
			} else {
				res.AutoAccepted = o.ID
				res.Status = string(model.JobAssigned)
			}
		}
	}
	return res, nil
}

// demoOffer picks the created offer of the nearest demo contractor.
func (s *Service) demoOffer(matches []matching.Match, created []model.Offer) *model.Offer {
	byContractor := make(map[string]*model.Offer, len(created))
	for i := range created {
		byContractor[created[i].ContractorID] = &created[i]
	}
	for _, m := range matches {
		for _, marker := range s.cfg.DemoMarkers {
			if strings.Contains(m.Contractor.CompanyName, marker) {
				if o, ok := byContractor[m.Contractor.ID]; ok {
					return o
				}
			}
		}
	}
	return nil
}

// CompleteJob marks an assigned job completed. The caller must be the
// customer or the contractor holding the accepted offer.
func (s *Service) CompleteJob(ctx context.Context, callerID, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	if job.CustomerID != callerID {
		ok, err := s.holdsAcceptedOffer(ctx, callerID, job.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotOwner
		}
	}
	if err := s.transition(ctx, job, model.JobCompleted); err != nil {
		return nil, err
	}
	return job, nil
}

// CancelJob cancels a non-terminal job, declines its pending offers and
// releases the payment hold. A failed release is logged, not returned.
func (s *Service) CancelJob(ctx context.Context, customerID, jobID string) (*model.Job, error) {
	job, err := s.ownedJob(ctx, customerID, jobID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(job.Status) {
		return nil, fmt.Errorf("%w: job is already %s", ErrInvalidTransition, job.Status)
	}
	if err := s.transition(ctx, job, model.JobCancelled); err != nil {
		return nil, err
	}

	n, err := s.store.DeclinePendingOffers(ctx, job.ID)
	if err != nil {
		slog.Warn("cancelJob: decline pending offers failed", "jobId", job.ID, "err", err)
	} else if n > 0 {
		slog.Info("cancelJob: pending offers declined", "jobId", job.ID, "offers", n)
	}

	if job.PaymentHoldRef != nil {
		if err := s.payments.Cancel(ctx, *job.PaymentHoldRef); err != nil {
			slog.Warn("cancelJob: release payment hold failed", "jobId", job.ID, "err", err)
		}
	}
	return job, nil
}

// ─── Offers ──────────────────────────────────────────────────────────────────

// AcceptOffer lets the owning contractor accept a pending offer. Exactly one
// concurrent accept per job succeeds; every other returns ErrOfferUnavailable,
// as does accepting an offer that is resolved or past its window.
func (s *Service) AcceptOffer(ctx context.Context, contractorID, offerID string) (*model.Offer, error) {
	o, err := s.actionableOffer(ctx, contractorID, offerID)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	declined, err := s.store.AcceptOffer(ctx, o.JobID, o.ID, now)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrOfferUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("acceptOffer: %w", err)
	}
	o.Status = model.OfferAccepted
	slog.Info("dispatch: offer accepted", "offerId", o.ID, "jobId", o.JobID, "declined", declined)

	s.publish(ctx, events.ChannelOfferResolved, events.OfferResolved{
		Type: events.ChannelOfferResolved, OfferID: o.ID, JobID: o.JobID,
		ContractorID: o.ContractorID, Status: string(model.OfferAccepted),
	})
	if job, err := s.store.GetJob(ctx, o.JobID); err == nil {
		s.publish(ctx, events.ChannelJobStatus, events.JobStatusChanged{
			Type: events.ChannelJobStatus, JobID: job.ID, CustomerID: job.CustomerID,
			From: string(model.JobSearching), To: string(model.JobAssigned),
		})
	}
	return o, nil
}

// DeclineOffer lets the owning contractor decline a pending offer. The job is
// not affected, even when no pending offers remain.
func (s *Service) DeclineOffer(ctx context.Context, contractorID, offerID string) (*model.Offer, error) {
	o, err := s.actionableOffer(ctx, contractorID, offerID)
	if err != nil {
		return nil, err
	}

	err = s.store.TransitionOffer(ctx, o.ID, model.OfferPending, model.OfferDeclined)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrOfferUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("declineOffer: %w", err)
	}
	o.Status = model.OfferDeclined

	s.publish(ctx, events.ChannelOfferResolved, events.OfferResolved{
		Type: events.ChannelOfferResolved, OfferID: o.ID, JobID: o.JobID,
		ContractorID: o.ContractorID, Status: string(model.OfferDeclined),
	})
	return o, nil
}

// actionableOffer loads an offer the contractor may act on. A pending offer
// past its window is marked expired on the way and reported unavailable.
func (s *Service) actionableOffer(ctx context.Context, contractorID, offerID string) (*model.Offer, error) {
	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	if o.ContractorID != contractorID {
		return nil, ErrNotOwner
	}
	if o.Lapsed(s.cfg.Now()) {
		if err := s.store.TransitionOffer(ctx, o.ID, model.OfferPending, model.OfferExpired); err != nil && !errors.Is(err, store.ErrConflict) {
			slog.Warn("dispatch: mark offer expired failed", "offerId", o.ID, "err", err)
		}
		return nil, ErrOfferUnavailable
	}
	if o.Status != model.OfferPending {
		return nil, ErrOfferUnavailable
	}
	return o, nil
}

// ExpireOffers marks every lapsed pending offer expired and returns how many
// were changed. Jobs stay searching.
func (s *Service) ExpireOffers(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireOffers(ctx, s.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("expireOffers: %w", err)
	}
	if n > 0 {
		slog.Info("dispatch: offers expired", "count", n)
	}
	return n, nil
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// ListCustomerJobs returns the customer's jobs, newest first, with their
// offers and the offering companies' names. Lapsed pending offers are
// reported as expired.
func (s *Service) ListCustomerJobs(ctx context.Context, customerID string) ([]JobView, error) {
	jobs, err := s.store.ListJobsByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("listCustomerJobs: %w", err)
	}

	now := s.cfg.Now()
	names := map[string]string{}
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		offers, err := s.store.ListOffersByJob(ctx, j.ID)
		if err != nil {
			return nil, fmt.Errorf("listCustomerJobs offers: %w", err)
		}
		views := make([]OfferView, 0, len(offers))
		for _, o := range offers {
			name, ok := names[o.ContractorID]
			if !ok {
				if c, err := s.store.GetContractor(ctx, o.ContractorID); err == nil {
					name = c.CompanyName
				}
				names[o.ContractorID] = name
			}
			views = append(views, OfferView{
				ID:           o.ID,
				ContractorID: o.ContractorID,
				CompanyName:  name,
				Status:       o.EffectiveStatus(now),
				ExpiresAt:    o.ExpiresAt,
			})
		}
		out = append(out, JobView{Job: j, Offers: views})
	}
	return out, nil
}

// ListContractorOffers returns the contractor's offers, newest first, with a
// summary of each job.
func (s *Service) ListContractorOffers(ctx context.Context, contractorID string) ([]ContractorOffer, error) {
	offers, err := s.store.ListOffersByContractor(ctx, contractorID)
	if err != nil {
		return nil, fmt.Errorf("listContractorOffers: %w", err)
	}

	now := s.cfg.Now()
	out := make([]ContractorOffer, 0, len(offers))
	for _, o := range offers {
		job, err := s.store.GetJob(ctx, o.JobID)
		if err != nil {
			return nil, fmt.Errorf("listContractorOffers job %s: %w", o.JobID, err)
		}
		out = append(out, ContractorOffer{
			ID:        o.ID,
			JobID:     o.JobID,
			Status:    o.EffectiveStatus(now),
			ExpiresAt: o.ExpiresAt,
			CreatedAt: o.CreatedAt,
			Category:  job.Category,
			Hours:     job.Hours,
			PriceMin:  job.PriceMin,
			PriceMax:  job.PriceMax,
			Address:   job.Address,
			JobStatus: job.Status,
		})
	}
	return out, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Service) ownedJob(ctx context.Context, customerID, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, s.mapStoreErr(err)
	}
	if job.CustomerID != customerID {
		return nil, ErrNotOwner
	}
	return job, nil
}

func (s *Service) holdsAcceptedOffer(ctx context.Context, contractorID, jobID string) (bool, error) {
	offers, err := s.store.ListOffersByJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("list offers: %w", err)
	}
	for _, o := range offers {
		if o.ContractorID == contractorID && o.Status == model.OfferAccepted {
			return true, nil
		}
	}
	return false, nil
}

// transition moves job to `to` with a compare-and-swap on its current status
// and publishes EVENT_JOB_STATUS.
func (s *Service) transition(ctx context.Context, job *model.Job, to model.JobStatus) error {
	from := job.Status
	if !IsTransitionAllowed(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	if err := s.store.TransitionJob(ctx, job.ID, from, to); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: job %s is no longer %s", ErrInvalidTransition, job.ID, from)
		}
		return fmt.Errorf("transition %s → %s: %w", from, to, err)
	}
	job.Status = to

	s.publish(ctx, events.ChannelJobStatus, events.JobStatusChanged{
		Type: events.ChannelJobStatus, JobID: job.ID, CustomerID: job.CustomerID,
		From: string(from), To: string(to),
	})
	return nil
}

// publish sends an event; failures are logged and never fail the action.
func (s *Service) publish(ctx context.Context, channel string, event any) {
	if err := s.events.Publish(ctx, channel, event); err != nil {
		slog.Warn("publish "+channel+" failed", "err", err)
	}
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
