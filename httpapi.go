// httpapi.go
package calendar

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// HTTP command surface wrapping the three Command API operations (§4.1).
// Peripheral to the core per §1, kept in this package for the same reason
// the teacher keeps handlers.go alongside its domain types: a thin JSON
// adapter in front of synchronous service calls.
//
// Grounded on the teacher's handlers.go (respondJSON/respondError helpers,
// decode-validate-call-respond handler shape).

type createRequest struct {
	Name         string `json:"name"`
	Day          int    `json:"day"`
	StartSlot    int    `json:"start_slot"`
	EndSlot      int    `json:"end_slot"`
	Participants []int  `json:"participants"`
}

type createResponse struct {
	ApptID string `json:"appt_id"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func handleCreate(r *Replica) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body createRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, ErrInvalidInput)
			return
		}
		id, err := r.Create(req.Context(), body.Name, body.Day, body.StartSlot, body.EndSlot, body.Participants)
		if err != nil {
			switch err {
			case ErrInvalidInput:
				respondError(w, http.StatusBadRequest, err)
			case ErrLocalConflict:
				respondError(w, http.StatusConflict, err)
			default:
				respondError(w, http.StatusInternalServerError, err)
			}
			return
		}
		respondJSON(w, http.StatusCreated, createResponse{ApptID: id})
	}
}

func handleCancel(r *Replica) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		apptID := mux.Vars(req)["id"]
		if err := r.Cancel(req.Context(), apptID); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type gridCell struct {
	Participant int    `json:"participant"`
	Day         int    `json:"day"`
	Slot        int    `json:"slot"`
	ApptID      string `json:"appt_id"`
}

func handleReadCalendar(r *Replica) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		grid := r.ReadCalendar(req.Context())
		cells := make([]gridCell, 0, len(grid))
		for k, v := range grid {
			cells = append(cells, gridCell{Participant: k.participant, Day: k.day, Slot: k.slot, ApptID: v})
		}
		respondJSON(w, http.StatusOK, cells)
	}
}

func handleHealthz(r *Replica) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"self_id": r.selfID, "clock": r.clockSnapshot()})
	}
}

func (r *Replica) clockSnapshot() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

func handleDebugSnapshot(r *Replica) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		st := replicaState{SelfID: r.selfID, N: r.n, Clock: r.clock, T: r.t, PL: r.pl.All(), V: r.v, ApptNo: r.idGen.apptNo}
		r.mu.Unlock()
		respondJSON(w, http.StatusOK, st)
	}
}

// NewRouter wires the command API onto a gorilla/mux router, following the
// teacher's route-registration style in cluster_http.go/handlers.go.
func NewRouter(r *Replica, ws *WSManager) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/appointments", handleCreate(r)).Methods(http.MethodPost)
	router.HandleFunc("/appointments/{id}", handleCancel(r)).Methods(http.MethodDelete)
	router.HandleFunc("/calendar", handleReadCalendar(r)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", handleHealthz(r)).Methods(http.MethodGet)
	router.HandleFunc("/debug/snapshot", handleDebugSnapshot(r)).Methods(http.MethodGet)
	if ws != nil {
		router.HandleFunc("/ws", ServeWS(ws)).Methods(http.MethodGet)
	}
	return router
}
