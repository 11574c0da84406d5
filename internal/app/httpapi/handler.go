package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/raffle_service/internal/app"
	domain "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/domain/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/events"
	"github.com/R3E-Network/raffle_service/internal/app/metrics"
	walletsvc "github.com/R3E-Network/raffle_service/internal/app/services/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/internal/middleware"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app       *app.Application
	log       *logger.Logger
	audit     *AuditLog
	startedAt time.Time
}

// Options carries the optional handler features.
type Options struct {
	// Audit records every API request when set.
	Audit *AuditLog

	// FulfillGuard wraps the oracle callback endpoint, typically with
	// service-to-service authentication.
	FulfillGuard func(http.Handler) http.Handler
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHandler returns a router exposing the raffle REST API.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		app:       application,
		log:       log,
		audit:     opts.Audit,
		startedAt: time.Now(),
	}

	router := mux.NewRouter()
	router.Use(middleware.MetricsMiddleware())
	if h.audit != nil {
		router.Use(h.audit.middlewareFunc)
	}

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/raffle", h.getRaffle).Methods(http.MethodGet)
	router.HandleFunc("/raffle/entries", h.postEntry).Methods(http.MethodPost)
	router.HandleFunc("/raffle/entries", h.listEntries).Methods(http.MethodGet)
	router.HandleFunc("/raffle/upkeep", h.getUpkeep).Methods(http.MethodGet)
	router.HandleFunc("/raffle/upkeep", h.postUpkeep).Methods(http.MethodPost)
	router.HandleFunc("/raffle/draws/abort", h.postAbortDraw).Methods(http.MethodPost)
	router.HandleFunc("/raffle/draws/redrive", h.postRedriveDraw).Methods(http.MethodPost)
	router.HandleFunc("/raffle/rounds", h.listRounds).Methods(http.MethodGet)
	router.HandleFunc("/raffle/rounds/{round}", h.getRound).Methods(http.MethodGet)
	router.HandleFunc("/raffle/rounds/{round}/entries", h.listRoundEntries).Methods(http.MethodGet)

	router.HandleFunc("/vrf/requests", h.listRequests).Methods(http.MethodGet)
	router.HandleFunc("/vrf/requests/{request}", h.getRequest).Methods(http.MethodGet)

	var fulfill http.Handler = http.HandlerFunc(h.postFulfillment)
	if opts.FulfillGuard != nil {
		fulfill = opts.FulfillGuard(fulfill)
	}
	router.Handle("/vrf/fulfillments", fulfill).Methods(http.MethodPost)

	router.HandleFunc("/wallets", h.postWallet).Methods(http.MethodPost)
	router.HandleFunc("/wallets", h.listWallets).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{address}", h.getWallet).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{address}", h.patchWallet).Methods(http.MethodPatch)
	router.HandleFunc("/wallets/{address}/deposits", h.postDeposit).Methods(http.MethodPost)
	router.HandleFunc("/wallets/{address}/transactions", h.listWalletTransactions).Methods(http.MethodGet)

	router.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/events/stream", h.streamEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	return router
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

func (h *handler) getRaffle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Raffle.Snapshot())
}

func (h *handler) postEntry(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Participant string  `json:"participant"`
		Amount      float64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Raffle.Enter(r.Context(), payload.Participant, payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Raffle.Entries(r.Context(), r.URL.Query().Get("round_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) getUpkeep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Raffle.CheckUpkeep())
}

func (h *handler) postUpkeep(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Raffle.PerformUpkeep(r.Context())
	if err != nil {
		var notNeeded *domain.UpkeepNotNeededError
		if errors.As(err, &notNeeded) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":        notNeeded.Error(),
				"state":        notNeeded.State,
				"participants": notNeeded.Participants,
				"balance":      notNeeded.Balance,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, round)
}

func (h *handler) postAbortDraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Reason == "" {
		payload.Reason = "aborted by operator"
	}

	round, cancelled, err := h.app.Raffle.AbortDraw(r.Context(), payload.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Round              domain.Round `json:"round"`
		CancelledRequestID string       `json:"cancelled_request_id"`
	}{round, cancelled})
}

func (h *handler) postRedriveDraw(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Raffle.RedriveDraw(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) listRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.app.Raffle.ListRounds(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (h *handler) getRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Raffle.GetRound(r.Context(), mux.Vars(r)["round"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) listRoundEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Raffle.Entries(r.Context(), mux.Vars(r)["round"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	roundID := r.URL.Query().Get("round_id")
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))

	if status == string(randomness.RequestStatusPending) && roundID == "" {
		reqs, err := h.app.VRF.ListPending(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if reqs == nil {
			reqs = []randomness.Request{}
		}
		writeJSON(w, http.StatusOK, reqs)
		return
	}

	reqs, err := h.app.VRF.List(r.Context(), roundID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if status != "" {
		filtered := make([]randomness.Request, 0, len(reqs))
		for _, req := range reqs {
			if string(req.Status) == status {
				filtered = append(filtered, req)
			}
		}
		reqs = filtered
	}
	if reqs == nil {
		reqs = []randomness.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.VRF.Get(r.Context(), mux.Vars(r)["request"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) postFulfillment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequestID string   `json:"request_id"`
		Words     []uint64 `json:"words"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req, err := h.app.VRF.Fulfill(r.Context(), payload.RequestID, payload.Words)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) postWallet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string  `json:"address"`
		Balance float64 `json:"balance"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, err := h.app.Wallets.CreateAccount(r.Context(), payload.Address, payload.Balance)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) listWallets(w http.ResponseWriter, r *http.Request) {
	accts, err := h.app.Wallets.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, accts)
}

func (h *handler) getWallet(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Wallets.GetAccount(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) patchWallet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Active == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("active is required"))
		return
	}

	acct, err := h.app.Wallets.SetActive(r.Context(), mux.Vars(r)["address"], *payload.Active)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) postDeposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount float64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	acct, tx, err := h.app.Wallets.Deposit(r.Context(), mux.Vars(r)["address"], payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Account     wallet.Account     `json:"account"`
		Transaction wallet.Transaction `json:"transaction"`
	}{acct, tx})
}

func (h *handler) listWalletTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.app.Wallets.ListTransactions(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	var out []events.Event
	switch {
	case r.URL.Query().Get("type") != "":
		out = h.app.Events.RecentByType(events.Type(r.URL.Query().Get("type")), limit)
	case r.URL.Query().Get("module") != "":
		out = h.app.Events.RecentByModule(r.URL.Query().Get("module"), limit)
	default:
		out = h.app.Events.Recent(limit)
	}
	if out == nil {
		out = []events.Event{}
	}
	writeJSON(w, http.StatusOK, out)
}

// streamEvents upgrades the connection and forwards live events. Slow
// subscribers drop events instead of blocking the publishers.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, 64)
	unsubscribe := h.app.Events.Subscribe(func(ev events.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("audit log not configured"))
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(queryInt(r, "limit", 50)))
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, domain.ErrUnknownRequest):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrRaffleNotOpen), errors.Is(err, domain.ErrNoDrawInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, domain.ErrNotEnoughFunds), errors.Is(err, walletsvc.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, walletsvc.ErrAccountInactive):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
