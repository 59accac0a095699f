package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bissquit/cluster-issues/internal/pkg/ctxlog"
	"github.com/bissquit/cluster-issues/internal/pkg/httputil"
	"github.com/bissquit/cluster-issues/internal/pkg/metrics"
)

type contextKey string

const namespaceKey contextKey = "authorized_namespace"

// NamespaceFromContext returns the namespace the gate authorized for this
// request, or "" when the request did not pass through the gate.
func NamespaceFromContext(ctx context.Context) string {
	if ns, ok := ctx.Value(namespaceKey).(string); ok {
		return ns
	}
	return ""
}

// ContextWithNamespace records an authorized namespace on the context.
func ContextWithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceKey, namespace)
}

// maxBodyPeek bounds how much of a request body the gate will buffer while
// looking for a namespace field.
const maxBodyPeek = 1 << 20

// Middleware gates every request on namespace access. The namespace is taken
// from the URL path, the JSON body, or the query string, in that order; a
// request that names no namespace is rejected before the oracle is consulted.
// The oracle decides, and any oracle failure closes the gate: the handler
// behind it is never invoked on anything but an explicit allow.
func Middleware(reviewer Reviewer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ns, err := extractNamespace(r)
			if err != nil {
				ctxlog.FromContext(ctx).Warn("failed to read request body for namespace extraction", "error", err)
				httputil.Error(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if ns == "" {
				metrics.AuthzDecisions.WithLabelValues("missing_namespace").Inc()
				httputil.Error(w, http.StatusBadRequest, "namespace is required")
				return
			}

			allowed, err := reviewer.CanGetPods(ctx, bearerToken(r), ns)
			if err != nil {
				metrics.AuthzDecisions.WithLabelValues("error").Inc()
				ctxlog.FromContext(ctx).Error("namespace access review failed", "namespace", ns, "error", err)
				httputil.Error(w, http.StatusServiceUnavailable, "unable to verify namespace access")
				return
			}
			if !allowed {
				metrics.AuthzDecisions.WithLabelValues("denied").Inc()
				ctxlog.FromContext(ctx).Warn("namespace access denied", "namespace", ns)
				httputil.Error(w, http.StatusForbidden, "access to namespace denied")
				return
			}

			metrics.AuthzDecisions.WithLabelValues("allowed").Inc()
			next.ServeHTTP(w, r.WithContext(ContextWithNamespace(ctx, ns)))
		})
	}
}

// extractNamespace resolves the namespace a request concerns. The body is
// buffered and restored so downstream handlers can decode it again.
func extractNamespace(r *http.Request) (string, error) {
	if ns := chi.URLParam(r, "namespace"); ns != "" {
		return ns, nil
	}

	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
		if err != nil {
			return "", err
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))

		var probe struct {
			Namespace string `json:"namespace"`
		}
		// A non-JSON or malformed body is not the gate's problem; the
		// handler will reject it with a proper validation error.
		if err := json.Unmarshal(raw, &probe); err == nil && probe.Namespace != "" {
			return probe.Namespace, nil
		}
	}

	return r.URL.Query().Get("namespace"), nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
