// Package txid carries the per-request transaction (correlation) id.
//
// The id lives in a scope stored on the request context. Begin opens the scope,
// End clears it, and Detach copies the current id into a new scope for work that
// outlives the request.
package txid

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Header is read on ingress, echoed on responses, and sent on outbound calls.
const Header = "X-Transaction-ID"

const maxInboundLength = 128

type scope struct {
	mu sync.RWMutex
	id string
}

type scopeKey struct{}

// NewID is replaceable in tests.
var NewID = uuid.NewString

// Begin opens a scope for ctx, reusing inbound when it is a usable id.
func Begin(ctx context.Context, inbound string) (context.Context, string) {
	id := strings.TrimSpace(inbound)
	if id == "" || len(id) > maxInboundLength {
		id = NewID()
	}
	return context.WithValue(ctx, scopeKey{}, &scope{id: id}), id
}

// Current returns the id of the scope on ctx, or "" when there is none or it has ended.
func Current(ctx context.Context) string {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// End clears the scope on ctx. Safe to call more than once.
func End(ctx context.Context) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		return
	}
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
}

// Detach returns a context that is not cancelled with ctx and owns a private copy
// of the current id, so End on the request does not affect it.
func Detach(ctx context.Context) context.Context {
	detached := context.WithoutCancel(ctx)
	return context.WithValue(detached, scopeKey{}, &scope{id: Current(ctx)})
}

// Middleware begins a scope per request and ends it when the handler returns or panics.
// A request that already runs inside a scope keeps it, so the middleware can be
// mounted both on a server and on routers below it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Current(r.Context()) != "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx, id := Begin(r.Context(), r.Header.Get(Header))
		defer End(ctx)
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
