// Package authz implements the namespace access gate. Authorization
// decisions are delegated to the cluster's SelfSubjectAccessReview API:
// there is no native "may access this namespace" permission, so the ability
// to get pods in the namespace is used as a membership proxy.
package authz

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Reviewer answers whether the caller may get pods in a namespace. token is
// the caller's bearer token as forwarded on the request; implementations
// may fall back to their own identity when it is empty.
type Reviewer interface {
	CanGetPods(ctx context.Context, token, namespace string) (bool, error)
}

// KubeConfig configures the Kubernetes access review client.
type KubeConfig struct {
	// APIServer is the base URL of the Kubernetes API server.
	APIServer string
	// Token is the fallback bearer token, used when the inbound request
	// carries none.
	Token string
	// TokenFile, when set, is read instead of Token (the in-cluster
	// service account token path in a standard deployment).
	TokenFile string
	// InsecureSkipVerify disables TLS certificate verification. Intended
	// for local development only.
	InsecureSkipVerify bool
	// Timeout bounds a single review call.
	Timeout time.Duration
}

// KubeReviewer performs SelfSubjectAccessReview calls against the
// Kubernetes authorization API.
type KubeReviewer struct {
	apiServer     string
	fallbackToken string
	client        *http.Client
}

// NewKubeReviewer creates a reviewer for the configured API server.
func NewKubeReviewer(cfg KubeConfig) (*KubeReviewer, error) {
	if cfg.APIServer == "" {
		return nil, fmt.Errorf("api server url is required")
	}

	token := cfg.Token
	if cfg.TokenFile != "" {
		raw, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- opt-in for local development
		}
	}

	return &KubeReviewer{
		apiServer:     strings.TrimRight(cfg.APIServer, "/"),
		fallbackToken: token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// accessReview mirrors the SelfSubjectAccessReview wire format, reduced to
// the fields this gate uses.
type accessReview struct {
	APIVersion string              `json:"apiVersion"`
	Kind       string              `json:"kind"`
	Spec       accessReviewSpec    `json:"spec"`
	Status     *accessReviewStatus `json:"status,omitempty"`
}

type accessReviewSpec struct {
	ResourceAttributes resourceAttributes `json:"resourceAttributes"`
}

type resourceAttributes struct {
	Namespace string `json:"namespace"`
	Verb      string `json:"verb"`
	Resource  string `json:"resource"`
}

type accessReviewStatus struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CanGetPods submits a SelfSubjectAccessReview for `get pods` in the
// namespace. The review runs as the inbound caller when a token is
// forwarded, otherwise as the service's own identity.
func (r *KubeReviewer) CanGetPods(ctx context.Context, token, namespace string) (bool, error) {
	review := accessReview{
		APIVersion: "authorization.k8s.io/v1",
		Kind:       "SelfSubjectAccessReview",
		Spec: accessReviewSpec{
			ResourceAttributes: resourceAttributes{
				Namespace: namespace,
				Verb:      "get",
				Resource:  "pods",
			},
		},
	}

	body, err := json.Marshal(review)
	if err != nil {
		return false, fmt.Errorf("marshal access review: %w", err)
	}

	url := r.apiServer + "/apis/authorization.k8s.io/v1/selfsubjectaccessreviews"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create access review request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if token == "" {
		token = r.fallbackToken
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("submit access review: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("access review failed: status=%d body=%s", resp.StatusCode, raw)
	}

	var result accessReview
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode access review response: %w", err)
	}
	if result.Status == nil {
		return false, fmt.Errorf("access review response has no status")
	}

	return result.Status.Allowed, nil
}
