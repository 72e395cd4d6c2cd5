package authflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/portalctl/internal/api"
	"github.com/CodeMonkeyCybersecurity/portalctl/internal/logger"
)

type PollOutcome string

const (
	PollCompleted PollOutcome = "completed"
	PollExpired   PollOutcome = "expired"
	PollTimedOut  PollOutcome = "timed_out"
	PollCancelled PollOutcome = "cancelled"
)

type PollResult struct {
	Outcome     PollOutcome
	AccessToken string
	Polls       int
}

type statusFunc func(ctx context.Context, sessionID string) (*api.SSOSessionStatus, error)

// SSOPoll is a running SSO status poll. It issues at most one request at a
// time and stops for good after completion, expiry, timeout, Cancel or
// the end of the context it was started with.
type SSOPoll struct {
	sessionID string
	interval  time.Duration
	parent    context.Context

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	polls  atomic.Int64

	mu     sync.Mutex
	result *PollResult
}

func startPoll(parent context.Context, sessionID string, interval, timeout time.Duration,
	status statusFunc, log *logger.Logger, onTick func(outcome string), onFinish func(*SSOPoll, PollResult)) *SSOPoll {

	ctx, cancel := context.WithTimeout(parent, timeout)
	p := &SSOPoll{
		sessionID: sessionID,
		interval:  interval,
		parent:    parent,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		defer cancel()

		res := p.run(ctx, parent, status, log, onTick)
		p.mu.Lock()
		p.result = &res
		p.mu.Unlock()
		if onFinish != nil {
			onFinish(p, res)
		}
	}()

	return p
}

func (p *SSOPoll) run(ctx, parent context.Context, status statusFunc, log *logger.Logger, onTick func(string)) PollResult {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	stopped := func() PollResult {
		out := PollCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			out = PollTimedOut
		}
		return PollResult{Outcome: out, Polls: p.Polls()}
	}

	for {
		select {
		case <-ctx.Done():
			return stopped()
		case <-ticker.C:
		}

		// the request runs inside the loop, so ticks that fire while it is
		// in flight are dropped rather than queued
		p.polls.Add(1)
		st, err := status(ctx, p.sessionID)
		if ctx.Err() != nil {
			return stopped()
		}

		switch {
		case err != nil:
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone) {
				onTick(string(PollExpired))
				return PollResult{Outcome: PollExpired, Polls: p.Polls()}
			}
			onTick("error")
			log.Debugw("SSO status poll failed, retrying", "error", err, "poll", p.Polls())
		case st.Completed:
			onTick(string(PollCompleted))
			return PollResult{Outcome: PollCompleted, AccessToken: st.AccessToken, Polls: p.Polls()}
		case st.Expired:
			onTick(string(PollExpired))
			return PollResult{Outcome: PollExpired, Polls: p.Polls()}
		default:
			onTick("pending")
		}
	}
}

func (p *SSOPoll) SessionID() string { return p.sessionID }

// Cancel stops the poll. It does not wait for the goroutine; use Done or
// Wait for that.
func (p *SSOPoll) Cancel() {
	p.once.Do(p.cancel)
}

func (p *SSOPoll) Done() <-chan struct{} { return p.done }

// Wait blocks until the poll has stopped and the controller has applied its
// outcome, or until ctx ends.
func (p *SSOPoll) Wait(ctx context.Context) (PollResult, error) {
	select {
	case <-p.done:
		res, _ := p.Result()
		return res, nil
	case <-ctx.Done():
		return PollResult{}, ctx.Err()
	}
}

// Result returns the outcome once the poll has stopped.
func (p *SSOPoll) Result() (PollResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result == nil {
		return PollResult{}, false
	}
	return *p.result, true
}

// Polls is the number of status requests issued so far.
func (p *SSOPoll) Polls() int { return int(p.polls.Load()) }
