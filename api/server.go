// Package api exposes the dataset and search services over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/sci-ndp/ndp-catalog-adapter/broker"
	"github.com/sci-ndp/ndp-catalog-adapter/dataset"
	"github.com/sci-ndp/ndp-catalog-adapter/search"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-ID"

// Server routes HTTP requests to the services. Bearer tokens are only
// checked for presence; identity is verified upstream.
type Server struct {
	logger   logrus.FieldLogger
	router   *mux.Router
	datasets *dataset.Service
	searches *search.Service
	prober   broker.Prober
	decoder  *schema.Decoder
}

var _ http.Handler = (*Server)(nil)

// New builds the server. prober may be nil, in which case the Kafka status
// route reports the broker as disabled.
func New(logger logrus.FieldLogger, datasets *dataset.Service, searches *search.Service, prober broker.Prober) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		logger:   logger,
		router:   mux.NewRouter(),
		datasets: datasets,
		searches: searches,
		prober:   prober,
		decoder:  decoder,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.accessLog)

	r.HandleFunc("/search", s.handleSearchByTerms).Methods("GET")
	r.HandleFunc("/search", s.handleSearch).Methods("POST")
	r.HandleFunc("/organization", s.handleListOrganizations).Methods("GET")
	r.HandleFunc("/status/kafka", s.handleKafkaDetails).Methods("GET")

	w := r.NewRoute().Subrouter()
	w.Use(s.requireBearer)
	w.HandleFunc("/dataset", s.handleCreateDataset).Methods("POST")
	w.HandleFunc("/dataset/{id}", s.handleUpdateDataset).Methods("PUT")
	w.HandleFunc("/dataset/{id}", s.handlePatchDataset).Methods("PATCH")
	w.HandleFunc("/resource", s.handleDeleteResource).Methods("DELETE")
	w.HandleFunc("/resource/{name}", s.handleDeleteResource).Methods("DELETE")
	w.HandleFunc("/kafka", s.handleRegisterKafka).Methods("POST")
	w.HandleFunc("/kafka/{id}", s.handleUpdateKafka).Methods("PUT")
	w.HandleFunc("/s3", s.handleRegisterS3).Methods("POST")
	w.HandleFunc("/s3/{id}", s.handleUpdateS3).Methods("PUT")
	w.HandleFunc("/url", s.handleRegisterURL).Methods("POST")
	w.HandleFunc("/url/{id}", s.handleUpdateURL).Methods("PUT")
	w.HandleFunc("/services", s.handleRegisterService).Methods("POST")
	w.HandleFunc("/organization", s.handleCreateOrganization).Methods("POST")
	w.HandleFunc("/organization/{name}", s.handleDeleteOrganization).Methods("DELETE")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start),
		}).Info("Request handled")
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Kind: "unauthorized", Detail: "missing bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
