package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/quote-competition/internal/metrics"
)

// protectedProcedures require the trigger secret
var protectedProcedures = map[string]bool{
	CloseWindowProcedure:    true,
	CreateWindowProcedure:   true,
	ActivateWindowProcedure: true,
}

// NewTriggerAuthInterceptor rejects calls to protected procedures that do
// not carry "Authorization: Bearer <secret>".
func NewTriggerAuthInterceptor(secret string, logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			procedure := req.Spec().Procedure
			if req.Spec().IsClient || !protectedProcedures[procedure] {
				return next(ctx, req)
			}

			token, ok := strings.CutPrefix(req.Header().Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				metrics.TriggerAuthFailures.Inc()
				logger.Warn("rejected protected call",
					"procedure", procedure,
					"peer", req.Peer().Addr,
				)
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid trigger credential"))
			}
			return next(ctx, req)
		}
	}
}

// NewMetricsInterceptor records the duration of every handled call
func NewMetricsInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}

			start := time.Now()
			res, err := next(ctx, req)

			status := "success"
			if err != nil {
				status = connect.CodeOf(err).String()
			}
			metrics.RecordRequestDuration(req.Spec().Procedure, status, time.Since(start).Seconds())
			return res, err
		}
	}
}

// sweepThreshold is the number of tracked voters above which idle limiters
// are dropped
const sweepThreshold = 10000

// VoterLimiter throttles vote requests per voter
type VoterLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewVoterLimiter allows perMinute requests per voter. A non-positive value
// disables limiting.
func NewVoterLimiter(perMinute int) *VoterLimiter {
	if perMinute <= 0 {
		return &VoterLimiter{limit: rate.Inf}
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &VoterLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether voterID may make a request now.
func (l *VoterLimiter) Allow(voterID string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[voterID]
	if !ok {
		if len(l.limiters) >= sweepThreshold {
			l.sweep()
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[voterID] = limiter
	}
	return limiter.Allow()
}

// sweep drops limiters that have refilled completely. Caller holds mu.
func (l *VoterLimiter) sweep() {
	for id, limiter := range l.limiters {
		if limiter.Tokens() >= float64(l.burst) {
			delete(l.limiters, id)
		}
	}
}
