package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sakura-kun-88/startup-compass-89/pkg/forms"
	"github.com/sakura-kun-88/startup-compass-89/pkg/identity"
	"github.com/sakura-kun-88/startup-compass-89/pkg/journal"
	"github.com/sakura-kun-88/startup-compass-89/pkg/observability"
	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

// maxBodyBytes bounds form submissions.
const maxBodyBytes = 64 << 10

// Options configures a Server. Every field is optional.
type Options struct {
	Journal      journal.Store
	Validator    *identity.Validator
	RequireToken bool
	Limiter      *RateLimiter
	Provider     *observability.Provider
	Logger       *slog.Logger
	SessionTTL   time.Duration
}

// Server exposes the coordinator, the page forms and the journal.
type Server struct {
	coord *submission.Coordinator
	opts  Options
	log   *slog.Logger
}

// NewServer creates a server for coord.
func NewServer(coord *submission.Coordinator, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "api")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	return &Server{coord: coord, opts: opts, log: opts.Logger}
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc, gated bool) {
		var handler http.Handler = h
		if gated {
			handler = RequireWallet(handler)
		}
		mux.Handle(pattern, s.track(pattern, handler))
	}

	route("GET /health", s.handleHealth, false)
	route("GET /api/v1/categories", s.handleCategories, false)
	route("GET /api/v1/forms", s.handleForms, false)
	route("POST /api/v1/session", s.handleSession, false)
	route("POST /api/v1/forms/{form}", s.handleSubmit, true)
	route("GET /api/v1/records/{id}/submissions/{category}", s.handleStatus, false)
	route("DELETE /api/v1/records/{id}/submissions/{category}", s.handleReset, true)
	route("GET /api/v1/records/{id}/submissions/{category}/history", s.handleHistory, false)
	route("GET /api/v1/submissions", s.handleList, false)

	var h http.Handler = mux
	if s.opts.Limiter != nil {
		h = s.opts.Limiter.Middleware(h)
	}
	h = WalletResolver{Validator: s.opts.Validator, RequireToken: s.opts.RequireToken}.Resolve(h)
	return RequestID(h)
}

func (s *Server) track(pattern string, next http.Handler) http.Handler {
	if s.opts.Provider == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, done := s.opts.Provider.TrackOperation(r.Context(), "http "+pattern,
			attribute.String("http.route", pattern))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		var err error
		if sw.status >= 500 {
			err = fmt.Errorf("http %d", sw.status)
		}
		done(err)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type categoryView struct {
	Name        string `json:"name"`
	Call        string `json:"call"`
	Description string `json:"description,omitempty"`
	Encrypted   bool   `json:"encrypted"`
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	reg := s.coord.Registry()
	out := make([]categoryView, 0)
	for _, name := range reg.Names() {
		sc, _ := reg.Lookup(name)
		out = append(out, categoryView{Name: sc.Name, Call: sc.Call, Description: sc.Description, Encrypted: sc.CarriesValue()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": reg.Version(), "categories": out})
}

type formView struct {
	Name     string        `json:"name"`
	Category string        `json:"category"`
	Fields   []forms.Field `json:"fields"`
}

func (s *Server) handleForms(w http.ResponseWriter, _ *http.Request) {
	out := make([]formView, 0)
	for _, name := range forms.Names() {
		b, err := forms.NewForm(name, s.coord)
		if err != nil {
			continue
		}
		out = append(out, formView{Name: name, Category: b.Category(), Fields: b.Fields()})
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionRequest struct {
	Address string `json:"address"`
}

// handleSession issues a session token for a connected wallet. Proving
// control of the wallet is the wallet connector's job.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.Validator == nil {
		WriteErrorR(w, r, http.StatusNotImplemented, "Not Implemented", "Session tokens are not configured")
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "Body must be a JSON object with an address")
		return
	}
	addr, err := identity.ParseAddress(req.Address)
	if err != nil {
		WriteBadRequest(w, "Malformed wallet address")
		return
	}
	token, err := s.opts.Validator.Issue(r.Context(), addr, s.opts.SessionTTL)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"address":    addr,
		"expires_in": int(s.opts.SessionTTL.Seconds()),
	})
}

type submitResponse struct {
	SubmissionID string    `json:"submission_id"`
	RecordID     uint64    `json:"record_id"`
	Category     string    `json:"category"`
	StatusURL    string    `json:"status_url"`
	State        stateView `json:"state"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	b, err := forms.NewForm(r.PathValue("form"), s.coord)
	if err != nil {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", err.Error())
		return
	}

	var values map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&values); err != nil {
		WriteBadRequest(w, "Body must be a JSON object of field values")
		return
	}
	if err := b.Fill(values); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	h, err := b.Submit(r.Context())
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	status := http.StatusAccepted
	st := s.coord.Status(h.Key().RecordID, h.Key().Category)
	if r.URL.Query().Get("wait") == "true" {
		// Leaving early only abandons the wait; the write continues.
		if final, err := h.Wait(r.Context()); err == nil || final.Phase.Terminal() {
			st, status = final, http.StatusOK
		}
	}

	key := h.Key()
	writeJSON(w, status, submitResponse{
		SubmissionID: h.ID(),
		RecordID:     key.RecordID,
		Category:     key.Category,
		StatusURL:    fmt.Sprintf("/api/v1/records/%d/submissions/%s", key.RecordID, key.Category),
		State:        newStateView(st),
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *submission.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteProblem(w, r, &ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: ve.Error(),
			Field:  ve.Field,
			Code:   ve.Code,
		})
	case errors.Is(err, submission.ErrAlreadyPending):
		WriteErrorR(w, r, http.StatusConflict, "Conflict", "A submission for this record and category is already pending")
	case errors.Is(err, submission.ErrWalletRequired):
		WriteUnauthorized(w, "Connect a wallet to submit")
	default:
		s.log.ErrorContext(r.Context(), "submit failed", "request_id", GetRequestID(r.Context()), "error", err)
		WriteInternal(w, err)
	}
}

type stateView struct {
	Phase        string    `json:"phase"`
	SubmissionID string    `json:"submission_id,omitempty"`
	TxHandle     string    `json:"tx_handle,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newStateView(st submission.State) stateView {
	return stateView{
		Phase:        st.Phase.String(),
		SubmissionID: st.SubmissionID,
		TxHandle:     st.TxHandle.String(),
		Reason:       st.ReasonText(),
		UpdatedAt:    st.UpdatedAt,
	}
}

func keyFromPath(r *http.Request) (submission.Key, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return submission.Key{}, fmt.Errorf("record id must be a non-negative integer")
	}
	return submission.Key{RecordID: id, Category: r.PathValue("category")}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newStateView(s.coord.Status(key.RecordID, key.Category)))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromPath(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := s.coord.Reset(key.RecordID, key.Category); err != nil {
		if errors.Is(err, submission.ErrAlreadyPending) {
			WriteErrorR(w, r, http.StatusConflict, "Conflict", "A pending submission cannot be reset")
			return
		}
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		WriteErrorR(w, r, http.StatusNotImplemented, "Not Implemented", "No journal configured")
		return
	}
	key, err := keyFromPath(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	entries, err := s.opts.Journal.History(r.Context(), key)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		WriteErrorR(w, r, http.StatusNotImplemented, "Not Implemented", "No journal configured")
		return
	}
	limit := journal.DefaultListLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 500 {
			WriteBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.opts.Journal.List(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
