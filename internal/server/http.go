package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"lbring/internal/balancer"
	"lbring/internal/idgen"
)

// RandomNameLength is the length of generated server names.
const RandomNameLength = 7

// Response messages.
const (
	msgInvalidPayload   = "<Error> Request payload in invalid format"
	msgTooManyAdds      = "<Error> Length of hostname list is more than newly added instances"
	msgTooManyRemovals  = "<Error> Length of hostname list is more than removable instances"
	msgNotEnoughServers = "<Error> Number of removable instances is more than existing instances"
	msgNoServers        = "<Error> No servers available"
	msgInvalidID        = "<Error> Request id must be an integer"

	statusSuccessful = "successful"
	statusFailure    = "failure"
)

// Checker reports which of the given servers are healthy.
type Checker interface {
	Healthy(ctx context.Context, names []string) []string
}

// Option configures an HTTPServer.
type Option interface {
	apply(*HTTPServer)
}

type optionFunc func(*HTTPServer)

func (f optionFunc) apply(s *HTTPServer) { f(s) }

// WithChecker filters /rep through a health checker. Without one /rep lists
// every member.
func WithChecker(c Checker) Option {
	return optionFunc(func(s *HTTPServer) { s.checker = c })
}

// WithNames sets the source of generated server names and random removals.
func WithNames(r *idgen.Random) Option {
	return optionFunc(func(s *HTTPServer) { s.names = r })
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(s *HTTPServer) { s.logger = l })
}

// HTTPServer is the HTTP front end of the balancer.
type HTTPServer struct {
	balancer *balancer.Balancer
	checker  Checker
	names    *idgen.Random
	logger   *zap.Logger
	router   *httprouter.Router
	srv      *http.Server

	// scaleMu serializes /add and /rm so each request sees a stable member set.
	scaleMu sync.Mutex
}

// NewHTTP creates the HTTP front end for b.
func NewHTTP(b *balancer.Balancer, opts ...Option) *HTTPServer {
	s := &HTTPServer{
		balancer: b,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	if s.names == nil {
		s.names = idgen.NewRandom(time.Now().UnixNano(), 1)
	}

	r := httprouter.New()
	r.GET("/heartbeat", s.heartbeat)
	r.GET("/rep", s.rep)
	r.POST("/add", s.add)
	r.POST("/rm", s.rm)
	r.GET("/checkpoint", s.checkpoint)
	r.GET("/home", s.home)
	r.GET("/route/:id", s.route)
	r.GET("/stats", s.stats)
	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v interface{}) {
		s.logger.Error("handler panic", zap.String("path", req.URL.Path), zap.Any("panic", v))
		writeFailure(w, http.StatusInternalServerError, "<Error> Internal server error")
	}
	s.router = r
	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the routing handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start serves on lis until Shutdown is called.
func (s *HTTPServer) Start(lis net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type scaleRequest struct {
	N         *int     `json:"n"`
	Hostnames []string `json:"hostnames"`
}

type replicaSet struct {
	N        int      `json:"N"`
	Replicas []string `json:"replicas"`
}

type envelope struct {
	Message interface{} `json:"message"`
	Status  string      `json:"status,omitempty"`
}

func (s *HTTPServer) heartbeat(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *HTTPServer) rep(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	members := s.balancer.CurrentMembers()
	if s.checker != nil {
		members = s.checker.Healthy(r.Context(), members)
	}
	writeReplicas(w, members)
}

func (s *HTTPServer) add(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n, hostnames, ok := decodeScale(r)
	if !ok {
		writeFailure(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}
	if len(hostnames) > n {
		writeFailure(w, http.StatusBadRequest, msgTooManyAdds)
		return
	}

	s.scaleMu.Lock()
	defer s.scaleMu.Unlock()

	// A failed /add rolls back every server it placed.
	var added []string
	random := n - len(hostnames)
	for _, name := range hostnames {
		if s.balancer.IsMember(name) {
			s.logger.Info("server already exists", zap.String("server", name))
			random++
			continue
		}
		if err := s.balancer.AddServer(name); err != nil {
			s.rollback(added)
			s.writeAddError(w, name, err)
			return
		}
		added = append(added, name)
	}

	for i := 0; i < random; {
		name := idgen.RandomName(s.names, RandomNameLength)
		err := s.balancer.AddServer(name)
		if errors.Is(err, balancer.ErrAlreadyMember) {
			continue
		}
		if err != nil {
			s.rollback(added)
			s.writeAddError(w, name, err)
			return
		}
		added = append(added, name)
		i++
	}

	writeReplicas(w, s.balancer.CurrentMembers())
}

// rollback removes servers added by a failed /add, newest first.
func (s *HTTPServer) rollback(added []string) {
	for i := len(added) - 1; i >= 0; i-- {
		s.remove(added[i])
	}
	if len(added) > 0 {
		s.logger.Warn("rolled back partial add", zap.Strings("servers", added))
	}
}

func (s *HTTPServer) writeAddError(w http.ResponseWriter, name string, err error) {
	s.logger.Error("failed to add server", zap.String("server", name), zap.Error(err))
	switch {
	case errors.Is(err, balancer.ErrInvalidName):
		writeFailure(w, http.StatusBadRequest, msgInvalidPayload)
	case errors.Is(err, balancer.ErrCapacityExceeded):
		writeFailure(w, http.StatusInsufficientStorage, "<Error> "+err.Error())
	default:
		writeFailure(w, http.StatusInternalServerError, "<Error> "+err.Error())
	}
}

func (s *HTTPServer) rm(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n, hostnames, ok := decodeScale(r)
	if !ok {
		writeFailure(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}
	if len(hostnames) > n {
		writeFailure(w, http.StatusBadRequest, msgTooManyRemovals)
		return
	}

	s.scaleMu.Lock()
	defer s.scaleMu.Unlock()

	if n > len(s.balancer.CurrentMembers()) {
		writeFailure(w, http.StatusBadRequest, msgNotEnoughServers)
		return
	}

	random := n - len(hostnames)
	for _, name := range hostnames {
		if !s.balancer.IsMember(name) {
			s.logger.Info("server does not exist", zap.String("server", name))
			random++
			continue
		}
		s.remove(name)
	}

	for i := 0; i < random; i++ {
		members := s.balancer.CurrentMembers()
		if len(members) == 0 {
			break
		}
		s.remove(members[s.names.Intn(len(members))])
	}

	writeReplicas(w, s.balancer.CurrentMembers())
}

func (s *HTTPServer) remove(name string) {
	_, err := s.balancer.RemoveServer(name)
	switch {
	case err == nil:
	case errors.Is(err, balancer.ErrRedistributionUnderflow):
		s.logger.Warn("removed last server", zap.String("server", name), zap.Error(err))
	default:
		s.logger.Error("failed to remove server", zap.String("server", name), zap.Error(err))
	}
}

func (s *HTTPServer) checkpoint(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, struct {
		Servers  []string         `json:"servers"`
		Requests map[string]int64 `json:"requests"`
	}{
		Servers:  s.balancer.CurrentMembers(),
		Requests: s.balancer.CurrentLedger(),
	})
}

func (s *HTTPServer) home(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	_, name, err := s.balancer.Route()
	s.writeRouted(w, name, err)
}

func (s *HTTPServer) route(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	name, err := s.balancer.RouteRequest(id)
	s.writeRouted(w, name, err)
}

func (s *HTTPServer) writeRouted(w http.ResponseWriter, name string, err error) {
	if err != nil {
		writeFailure(w, http.StatusServiceUnavailable, msgNoServers)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: "Hello from " + name})
}

func (s *HTTPServer) stats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	st := s.balancer.Stats()
	writeJSON(w, http.StatusOK, struct {
		Members       int   `json:"members"`
		Slots         int   `json:"slots"`
		OccupiedSlots int   `json:"occupied_slots"`
		VNodes        int   `json:"vnodes"`
		Replication   int   `json:"replication"`
		TotalRequests int64 `json:"total_requests"`
	}{st.Members, st.Slots, st.OccupiedSlots, st.VNodes, st.Replication, st.TotalRequests})
}

// decodeScale parses an /add or /rm body. n is required and non-negative;
// hostnames must be non-empty and distinct.
func decodeScale(r *http.Request) (int, []string, bool) {
	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, nil, false
	}
	if req.N == nil || *req.N < 0 {
		return 0, nil, false
	}
	seen := make(map[string]bool, len(req.Hostnames))
	for _, name := range req.Hostnames {
		if name == "" || seen[name] {
			return 0, nil, false
		}
		seen[name] = true
	}
	return *req.N, req.Hostnames, true
}

func writeReplicas(w http.ResponseWriter, members []string) {
	if members == nil {
		members = []string{}
	}
	writeJSON(w, http.StatusOK, envelope{
		Message: replicaSet{N: len(members), Replicas: members},
		Status:  statusSuccessful,
	})
}

func writeFailure(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Message: msg, Status: statusFailure})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
