package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"codehive/internal/domain"
	"codehive/internal/service"
)

// Admission errors. They are reported only to the connection that submitted
// the run and never broadcast.
var (
	ErrInvalidSession      = errors.New("executor: invalid session")
	ErrPolicyViolation     = errors.New("executor: code contains prohibited patterns")
	ErrUnsupportedLanguage = errors.New("executor: unsupported language")
	ErrRunInFlight         = errors.New("executor: an execution is already running for this session")
	ErrStoreUnavailable    = errors.New("executor: session store unavailable")
)

// Job is one transient execution request. It is never persisted.
type Job struct {
	SessionID string
	Code      string
	Language  string
}

// Backend runs a job in isolation, streaming output chunks through emit.
// Run must not leak any provisioned resource, whichever path it exits on.
type Backend interface {
	Name() string
	Run(ctx context.Context, job Job, emit func(chunk string)) error
}

// Sink receives execution output addressed to a session room.
type Sink interface {
	Output(sessionID, chunk string)
	Completed(sessionID string)
}

// SessionChecker is the slice of the session service the orchestrator needs
// to validate a job's target session.
type SessionChecker interface {
	Snapshot(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Orchestrator gates, admits and supervises execution jobs. It enforces the
// preconditions in order (active session, safety gate, supported language),
// admits at most one job per session at a time, bounds each job with a
// wall-clock deadline, and guarantees exactly one terminal signal per
// admitted job.
type Orchestrator struct {
	sessions SessionChecker
	backend  Backend
	sink     Sink
	locks    *redis.Client
	prefix   string
	timeout  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an Orchestrator. locks may be nil, in which case single-flight
// admission falls back to the in-process cancel registry only.
func New(sessions SessionChecker, backend Backend, sink Sink, locks *redis.Client, keyPrefix string, timeout time.Duration) *Orchestrator {
	if sessions == nil {
		panic("SessionChecker cannot be nil for Orchestrator")
	}
	if backend == nil {
		panic("Backend cannot be nil for Orchestrator")
	}
	if sink == nil {
		panic("Sink cannot be nil for Orchestrator")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		sessions: sessions,
		backend:  backend,
		sink:     sink,
		locks:    locks,
		prefix:   keyPrefix,
		timeout:  timeout,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Execute validates and admits a job. On success the job runs in the
// background and the method returns immediately; output and the terminal
// signal are delivered through the sink. Precondition failures return a
// typed error with no side effects and nothing provisioned.
func (o *Orchestrator) Execute(ctx context.Context, job Job) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": job.SessionID,
		"language":   job.Language,
		"backend":    o.backend.Name(),
	})

	// 1. The target session must exist and be active. A store outage is not
	// the same thing as an absent session and is reported as such.
	session, err := o.sessions.Snapshot(ctx, job.SessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			logCtx.Warn("Execution rejected: invalid session")
			return ErrInvalidSession
		}
		logCtx.WithError(err).Error("Execution rejected: session store unavailable")
		return ErrStoreUnavailable
	}
	if !session.Active {
		logCtx.Warn("Execution rejected: invalid session")
		return ErrInvalidSession
	}

	// 2. Safety gate, before anything is provisioned.
	if !codeSafe(job.Code, job.Language) {
		logCtx.Warn("Execution rejected: prohibited patterns")
		return ErrPolicyViolation
	}

	// 3. Fixed supported language set.
	if !Supported(job.Language) {
		logCtx.Warn("Execution rejected: unsupported language")
		return ErrUnsupportedLanguage
	}

	// 4. Single-flight admission per session.
	runCtx, cancel := context.WithTimeout(context.Background(), o.timeout)
	if err := o.admit(ctx, job.SessionID, cancel); err != nil {
		cancel()
		logCtx.Warn("Execution rejected: run already in flight")
		return err
	}

	logCtx.Info("Execution job admitted")
	go o.run(runCtx, cancel, job, logCtx)
	return nil
}

// run drives the backend and owns the job's terminal signal. The release of
// the admission lease, the cancel registry entry and the context are all
// deferred so no exit path can leak them.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, job Job, logCtx *logrus.Entry) {
	started := time.Now()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, job.SessionID)
		o.mu.Unlock()
		o.release(job.SessionID)
	}()

	err := o.backend.Run(ctx, job, func(chunk string) {
		o.sink.Output(job.SessionID, chunk)
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("execution timed out after %s", o.timeout)
		}
		logCtx.WithError(err).Warn("Execution job failed")
		o.sink.Output(job.SessionID, fmt.Sprintf("Execution error: %v\n", err))
		return
	}

	logCtx.WithField("duration_ms", time.Since(started).Milliseconds()).Info("Execution job completed")
	o.sink.Completed(job.SessionID)
}

// CancelSession aborts any in-flight job for the session. Called when the
// session ends so job lifetime stays bound to session liveness.
func (o *Orchestrator) CancelSession(sessionID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if ok {
		logrus.WithField("session_id", sessionID).Info("Cancelling in-flight execution")
		cancel()
	}
}

func (o *Orchestrator) lockKey(sessionID string) string {
	return o.prefix + "exec:" + sessionID
}

// admit takes the per-session execution lease, registering the job's cancel
// func in the same critical section so concurrent submissions cannot both
// pass. The redis lease carries a TTL slightly beyond the job deadline so a
// crashed process cannot wedge a session permanently.
func (o *Orchestrator) admit(ctx context.Context, sessionID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	if _, inFlight := o.cancels[sessionID]; inFlight {
		o.mu.Unlock()
		return ErrRunInFlight
	}
	o.cancels[sessionID] = cancel
	o.mu.Unlock()

	if o.locks == nil {
		return nil
	}

	ok, err := o.locks.SetNX(ctx, o.lockKey(sessionID), "1", o.timeout+10*time.Second).Result()
	if err == nil && ok {
		return nil
	}
	o.mu.Lock()
	delete(o.cancels, sessionID)
	o.mu.Unlock()
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Execution admission check failed")
		// Fail closed: without the lease we cannot guarantee single-flight.
	}
	return ErrRunInFlight
}

func (o *Orchestrator) release(sessionID string) {
	if o.locks == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.locks.Del(releaseCtx, o.lockKey(sessionID)).Err(); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to release execution lease")
	}
}
