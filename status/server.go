// Package status serves the state of a running export over HTTP.
//
// The routes are
//
//	GET  /                the name of the program
//	GET  /status          a JSON snapshot of the batch
//	GET  /failures        the packages which could not be created
//	POST /cancel          ask the batch to stop
//	GET  /history/:batch  the ledger entries of a batch
//	GET  /debug/vars      expvar data
package status

import (
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"net/http"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/sipexport/creation"
	"github.com/ndlib/sipexport/ledger"
)

// Batch is the part of a creation.Creator the server reports on.
type Batch interface {
	Status() creation.Status
	Failed() []creation.Failure
	Cancel()
}

var _ Batch = &creation.Creator{}

var requests = expvar.NewInt("status.requests")

// Server holds the configuration for a status server. Set the public fields
// and then call Start or Run. Do not change any fields afterwards.
type Server struct {
	// Port number to listen on.
	PortNumber string

	// Batch is the export being reported on. It must not be nil.
	Batch Batch

	// Ledger answers the /history route. If nil the route returns 404.
	Ledger ledger.Ledger

	server httpdown.Server // used to close our listening socket
}

// Start begins listening and handling requests in the background.
func (s *Server) Start() error {
	log.Println("Status server listening on", s.PortNumber)
	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.Handler(),
	})
	if err != nil {
		log.Println(err)
	}
	return err
}

// Run listens and handles requests until the server is stopped.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.server.Wait()
}

// Stop closes the listening socket and returns once the open requests have
// been handled.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

// Handler returns the routes of this server.
func (s *Server) Handler() http.Handler {
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"GET", "/", WelcomeHandler},
		{"GET", "/status", s.StatusHandler},
		{"GET", "/failures", s.FailuresHandler},
		{"POST", "/cancel", s.CancelHandler},
		{"GET", "/history/:batch", s.HistoryHandler},
		{"GET", "/debug/vars", VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, logWrapper(route.handler))
	}
	return r
}

// WelcomeHandler names the program.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "sipexport\n")
}

// StatusHandler returns the batch snapshot.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, s.Batch.Status())
}

// failure is the JSON form of a creation.Failure.
type failure struct {
	ID       string `json:"id"`
	ParentID string `json:"parent"`
	Title    string `json:"title"`
	Error    string `json:"error"`
}

// FailuresHandler lists the packages which failed so far.
func (s *Server) FailuresHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	result := []failure{}
	for _, f := range s.Batch.Failed() {
		result = append(result, failure{
			ID:       f.ID,
			ParentID: f.ParentID,
			Title:    f.Title,
			Error:    f.Err.Error(),
		})
	}
	writeJSON(w, result)
}

// CancelHandler cancels the batch and returns its status.
func (s *Server) CancelHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.Batch.Cancel()
	writeJSON(w, s.Batch.Status())
}

// HistoryHandler returns the ledger entries for the batch in the route.
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Ledger == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "No ledger")
		return
	}
	entries, err := s.Ledger.Batch(ps.ByName("batch"))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, err.Error())
		return
	}
	if len(entries) == 0 {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "Batch not found")
		return
	}
	writeJSON(w, entries)
}

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

func writeJSON(w http.ResponseWriter, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(val)
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		requests.Add(1)
		handler(w, r, ps)
	}
}
