package rpc

import (
	"net/http"

	"github.com/canopy-network/layercast/lib"
	"github.com/julienschmidt/httprouter"
)

// Version responds with the software version
func (s *Server) Version(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, SoftwareVersion, http.StatusOK)
}

// Status responds with a point in time snapshot of the process
func (s *Server) Status(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.controller.Status(), http.StatusOK)
}

// Metrics responds with the current value of every prometheus sample of the process
func (s *Server) Metrics(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	samples, err := s.controller.Metrics.Gather()
	if err != nil {
		write(w, err.Error(), http.StatusInternalServerError)
		return
	}
	write(w, samples, http.StatusOK)
}

// Events flushes the event log and responds with its parsed content
func (s *Server) Events(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := s.controller.Flush(); err != nil {
		write(w, err, http.StatusInternalServerError)
		return
	}
	events, err := lib.ReadEventLog(s.controller.EventLog.Path(), s.controller.View.ID)
	if err != nil {
		write(w, err, http.StatusInternalServerError)
		return
	}
	write(w, EventsResponse{ID: s.controller.View.ID, Events: events}, http.StatusOK)
}

type EventsResponse struct {
	ID     lib.ProcessID `json:"id"`
	Events []lib.Event   `json:"events"`
}
