//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// accessOracleStub fakes the Kubernetes SelfSubjectAccessReview endpoint.
// Namespaces in the allowed set get an allow verdict; flipping failing makes
// every review request error out so fail-closed behavior can be tested.
type accessOracleStub struct {
	mu      sync.Mutex
	allowed map[string]bool
	failing bool

	server *httptest.Server
}

func newAccessOracleStub() *accessOracleStub {
	stub := &accessOracleStub{
		allowed: make(map[string]bool),
	}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		failing := stub.failing
		stub.mu.Unlock()

		if failing {
			http.Error(w, "oracle down", http.StatusInternalServerError)
			return
		}

		var review struct {
			Spec struct {
				ResourceAttributes struct {
					Namespace string `json:"namespace"`
					Verb      string `json:"verb"`
					Resource  string `json:"resource"`
				} `json:"resourceAttributes"`
			} `json:"spec"`
		}
		if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
			http.Error(w, "bad review", http.StatusBadRequest)
			return
		}

		stub.mu.Lock()
		allowed := stub.allowed[review.Spec.ResourceAttributes.Namespace]
		stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"apiVersion": "authorization.k8s.io/v1",
			"kind":       "SelfSubjectAccessReview",
			"status":     map[string]any{"allowed": allowed},
		})
	}))

	return stub
}

func (s *accessOracleStub) URL() string {
	return s.server.URL
}

func (s *accessOracleStub) Allow(namespaces ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ns := range namespaces {
		s.allowed[ns] = true
	}
}

func (s *accessOracleStub) Deny(namespaces ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ns := range namespaces {
		delete(s.allowed, ns)
	}
}

func (s *accessOracleStub) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *accessOracleStub) Close() {
	s.server.Close()
}
