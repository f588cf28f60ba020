package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/laizesuelia/sd-trabalho-final/pkg/engine"
	"github.com/laizesuelia/sd-trabalho-final/pkg/logging"
	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
	"github.com/laizesuelia/sd-trabalho-final/pkg/store"
)

// SendRequest is the body of POST /send.
type SendRequest struct {
	Msg *string `json:"msg"`
}

// SendResponse is the answer to POST /send.
type SendResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	TS     int64  `json:"ts"`
}

// Page sizes of GET /deliveries. A missing or zero limit means
// defaultDeliveriesPage; larger limits are capped at maxDeliveriesPage.
const (
	defaultDeliveriesPage = 100
	maxDeliveriesPage     = 1000
)

type multicast struct {
	eng     *engine.Engine
	journal store.Journal
	log     logging.Logger
}

// NewMulticast returns the handler of the total-order multicast service.
// journal may be nil, in which case /deliveries answers 404.
func NewMulticast(eng *engine.Engine, journal store.Journal, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.NoopLogger{}
	}
	h := &multicast{eng: eng, journal: journal, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", h.send)
	mux.HandleFunc("POST /receive", h.receive)
	mux.HandleFunc("POST /ack", h.ack)
	mux.HandleFunc("GET /state", h.state)
	mux.HandleFunc("GET /deliveries", h.deliveries)
	mux.HandleFunc("GET /healthz", healthz)
	return mux
}

func (h *multicast) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Msg == nil {
		writeError(w, http.StatusBadRequest, errors.New(`missing field "msg"`))
		return
	}
	rc := h.eng.Send(*req.Msg)
	h.log.Info("sent", logging.F("id", rc.ID), logging.F("ts", rc.Timestamp))
	writeJSON(w, http.StatusOK, SendResponse{Status: "sent", ID: rc.ID, TS: rc.Timestamp})
}

func (h *multicast) receive(w http.ResponseWriter, r *http.Request) {
	var m model.Message
	if err := decodeJSON(w, r, &m); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.eng.ReceiveMessage(m); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *multicast) ack(w http.ResponseWriter, r *http.Request) {
	var a model.Ack
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.eng.ReceiveAck(a); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ack": "received"})
}

func (h *multicast) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Inspect())
}

func (h *multicast) deliveries(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, errors.New("delivery journal disabled"))
		return
	}
	since, err := queryInt(r, "since", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultDeliveriesPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case limit == 0:
		limit = defaultDeliveriesPage
	case limit > maxDeliveriesPage:
		limit = maxDeliveriesPage
	}
	ds, err := h.journal.ListDeliveries(since, int(limit))
	if err != nil {
		h.log.Error("list deliveries", logging.F("err", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ds == nil {
		ds = []model.Delivery{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func queryInt(r *http.Request, key string, def int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("query parameter " + key + " must be a non-negative integer")
	}
	return n, nil
}
