package server

import (
	"net/http"

	"github.com/laizesuelia/sd-trabalho-final/pkg/election"
	"github.com/laizesuelia/sd-trabalho-final/pkg/ring"
)

// NewRing returns the handler of the token-ring service.
func NewRing(node *ring.Node) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /init_token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": node.InitToken()})
	})
	mux.HandleFunc("POST "+ring.PassTokenPath, func(w http.ResponseWriter, r *http.Request) {
		var req ring.PassToken
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": node.ReceiveToken(req.From)})
	})
	requestCS := func(w http.ResponseWriter, _ *http.Request) {
		node.RequestCS()
		writeJSON(w, http.StatusOK, map[string]string{"status": "request_accepted"})
	}
	mux.HandleFunc("GET /request_cs", requestCS)
	mux.HandleFunc("POST /request_cs", requestCS)
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, node.State())
	})
	mux.HandleFunc("GET /healthz", healthz)
	return mux
}

// NewBully returns the handler of the bully election service.
func NewBully(node *election.Node) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+election.ElectionPath, func(w http.ResponseWriter, r *http.Request) {
		var req election.ElectionMsg
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, node.ReceiveElection(req.From))
	})
	mux.HandleFunc("POST "+election.CoordinatorPath, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Leader *int `json:"leader"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Leader == nil {
			writeError(w, http.StatusBadRequest, errMissingLeader)
			return
		}
		node.ReceiveCoordinator(*req.Leader)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	crash := func(w http.ResponseWriter, _ *http.Request) {
		node.CrashCoordinator()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
	mux.HandleFunc("GET /crash_coordinator", crash)
	mux.HandleFunc("POST /crash_coordinator", crash)
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, node.State())
	})
	mux.HandleFunc("GET /healthz", healthz)
	return mux
}
