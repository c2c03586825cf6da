package dispatch

// HTTP transport for the broker service.
//
// All routes except /health expect an x-user-id header forwarded by the Gateway.
//
// Routes:
//
//	GET  /health                        → liveness
//	POST /intake/turn                   → run one intake turn over the conversation
//	GET  /jobs                          → list the customer's jobs with offers
//	POST /jobs                          → create a priced job from a payload
//	POST /jobs/{id}/confirm-payment     → verify the hold and dispatch offers
//	POST /jobs/{id}/redispatch          → offer the job to new contractors
//	POST /jobs/{id}/cancel              → cancel the job
//	POST /jobs/{id}/complete            → mark an assigned job completed
//	GET  /offers                        → list the contractor's offers
//	POST /offers/{id}/accept            → accept an offer
//	POST /offers/{id}/decline           → decline an offer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"smider/broker-service/internal/extract"
	"smider/broker-service/internal/intake"
)

// maxBody caps request bodies; conversations are the largest payloads.
const maxBody = 1 << 20

// Handler holds shared dependencies.
type Handler struct {
	svc    *Service
	intake *intake.Service
}

// NewHandler returns a configured Handler.
func NewHandler(svc *Service, in *intake.Service) *Handler {
	return &Handler{svc: svc, intake: in}
}

// RegisterRoutes mounts all broker-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/intake/turn", h.handleIntakeTurn)
	mux.HandleFunc("/jobs", h.handleJobs)
	mux.HandleFunc("/jobs/", h.handleJobAction)
	mux.HandleFunc("/offers", h.handleOffers)
	mux.HandleFunc("/offers/", h.handleOfferAction)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonOK(w, map[string]string{"status": "ok"})
}

// handleJobs handles GET /jobs and POST /jobs
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listJobs(w, r)
	case http.MethodPost:
		h.createJob(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobAction handles POST /jobs/{id}/confirm-payment|redispatch|cancel|complete
func (h *Handler) handleJobAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID, action, ok := splitAction(r.URL.Path)
	if !ok {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var (
		v   any
		err error
	)
	switch action {
	case "confirm-payment":
		v, err = h.svc.ConfirmPayment(r.Context(), userID, jobID)
	case "redispatch":
		v, err = h.svc.Redispatch(r.Context(), userID, jobID)
	case "cancel":
		v, err = h.svc.CancelJob(r.Context(), userID, jobID)
	case "complete":
		v, err = h.svc.CompleteJob(r.Context(), userID, jobID)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, action, err)
		return
	}
	jsonOK(w, v)
}

// handleOffers handles GET /offers
func (h *Handler) handleOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	offers, err := h.svc.ListContractorOffers(r.Context(), userID)
	if err != nil {
		writeError(w, "listOffers", err)
		return
	}
	jsonOK(w, offers)
}

// handleOfferAction handles POST /offers/{id}/accept|decline
func (h *Handler) handleOfferAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	offerID, action, ok := splitAction(r.URL.Path)
	if !ok {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch action {
	case "accept":
		o, err := h.svc.AcceptOffer(r.Context(), userID, offerID)
		if err != nil {
			writeError(w, action, err)
			return
		}
		jsonOK(w, o)
	case "decline":
		o, err := h.svc.DeclineOffer(r.Context(), userID, offerID)
		if err != nil {
			writeError(w, action, err)
			return
		}
		jsonOK(w, o)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) handleIntakeTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Messages []extract.Turn `json:"messages"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil || len(body.Messages) == 0 {
		jsonError(w, "body must contain messages", http.StatusBadRequest)
		return
	}

	res, err := h.intake.SubmitTurn(r.Context(), body.Messages)
	if err != nil {
		writeError(w, "submitTurn", err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	jobs, err := h.svc.ListCustomerJobs(r.Context(), userID)
	if err != nil {
		writeError(w, "listJobs", err)
		return
	}
	jsonOK(w, jobs)
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Category string          `json:"category"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil || len(body.Payload) == 0 {
		jsonError(w, "body must contain payload", http.StatusBadRequest)
		return
	}

	// Client payloads pass the same boundary as model output.
	p, dropped := extract.Decode(body.Payload)
	if len(dropped) > 0 {
		writeError(w, "createJob", &ValidationError{Msg: "malformed payload fields", Fields: dropped})
		return
	}

	res, err := h.svc.CreateJob(r.Context(), userID, body.Category, p)
	if err != nil {
		var pe *PaymentError
		if errors.As(err, &pe) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]string{"error": pe.Error(), "jobId": pe.JobID})
			return
		}
		writeError(w, "createJob", err)
		return
	}
	jsonOK(w, res)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// splitAction parses /{collection}/{id}/{action}.
func splitAction(path string) (id, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// httpStatus maps service errors to status codes.
func httpStatus(err error) int {
	var (
		ve *ValidationError
		ue *intake.UnsupportedCategoryError
		pe *PaymentError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ue):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrOfferUnavailable), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, intake.ErrExtractionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "op", op, "err", err)
		jsonError(w, "internal error", code)
		return
	}
	var ve *ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{"error": ve.Msg, "fields": ve.Fields})
		return
	}
	jsonError(w, err.Error(), code)
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
