// Package server implements the DNX server half: the job list, request
// registry, registrar/dispatcher/collector/timer goroutines, and the
// ingress hook a monitoring host calls before running a check locally.
// Grounded on original_source/server/dnxNebMain.c for the overall
// component lifecycle and cuemby-warren's pkg/scheduler/scheduler.go for
// the goroutine-with-ticker-and-stopCh idiom.
package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnxgo/dnxgo/pkg/config"
	"github.com/dnxgo/dnxgo/pkg/dnxerr"
	"github.com/dnxgo/dnxgo/pkg/joblist"
	"github.com/dnxgo/dnxgo/pkg/log"
	"github.com/dnxgo/dnxgo/pkg/metrics"
	"github.com/dnxgo/dnxgo/pkg/plugin"
	"github.com/dnxgo/dnxgo/pkg/registry"
	"github.com/dnxgo/dnxgo/pkg/transport"
	"github.com/dnxgo/dnxgo/pkg/upstream"
	"github.com/dnxgo/dnxgo/pkg/wire"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

const (
	registrarRecvTimeout = 30 * time.Second
	collectorRecvTimeout = 30 * time.Second
	// MaxExpireBatch bounds how many jobs the timer reaps per wake, per
	// spec §4.6 ("MAX_BATCH bounds wake-time work; excess is reclaimed
	// next tick").
	MaxExpireBatch = 100
	// ExpiryGrace is added to a job's plugin timeout before it becomes
	// eligible for server-side reclamation, giving the worker's own
	// timeout handling a head start on the race.
	ExpiryGrace = 5 * time.Second
	// TimeoutMessage is the synthesized result text for a reaped job.
	TimeoutMessage = "(DNX Service Check Timed Out)"
)

// ServerContext owns every piece of server-side state and the four
// long-running goroutines that drive it.
type ServerContext struct {
	cfg        config.ServerConfig
	jobList    *joblist.JobList
	registry   *registry.Registry
	dispatch   transport.Channel
	collect    transport.Channel
	publisher  upstream.Publisher
	jobIDGen   *xid.Generator
	localCheck *regexp.Regexp

	// TimeoutResultCode is the exit code synthesized for expired jobs;
	// configurable between UNKNOWN and CRITICAL per §4.6.
	TimeoutResultCode plugin.ResultCode

	logger zerolog.Logger
	wg     sync.WaitGroup
}

// Option configures a ServerContext at construction time.
type Option func(*ServerContext)

// WithTimeoutResultCode overrides the default UNKNOWN result code
// synthesized for expired jobs.
func WithTimeoutResultCode(code plugin.ResultCode) Option {
	return func(s *ServerContext) { s.TimeoutResultCode = code }
}

// New builds a ServerContext bound to the given transport channels. dispatch
// is used both to receive NodeRequest registrations and to send Job
// messages to workers; collect receives Result messages. Callers open the
// channels (so tests can substitute transport.MockNetwork channels) and
// pass them in already bound.
func New(cfg config.ServerConfig, dispatch, collect transport.Channel, pub upstream.Publisher, opts ...Option) (*ServerContext, error) {
	// joblist.New(N) holds only N-1 jobs (one slot is reserved as the
	// empty/full discriminator), so minServiceSlots — the number of jobs
	// the list must actually be able to hold at once — needs a +1 here.
	jobListCap := cfg.MinServiceSlots + 1
	if jobListCap < 2 {
		jobListCap = 2
	}
	jl, err := joblist.New(jobListCap)
	if err != nil {
		return nil, fmt.Errorf("%w: job list init: %v", dnxerr.ErrInvalid, err)
	}

	reqLogger := log.WithComponent("audit")
	reg, err := registry.New(cfg.MaxNodeRequests, func(event string, t registry.Token) {
		switch event {
		case "overflow-dropped":
			metrics.RegistryOverflowDroppedTotal.Inc()
			reqLogger.Info().Str("event", "OVERFLOW").Str("worker_xid", t.WorkerXID.String()).Msg("registry overflow dropped oldest token")
		case "expired":
			metrics.RegistryExpiredTotal.Inc()
			reqLogger.Info().Str("event", "EXPIRE-TOKEN").Str("worker_xid", t.WorkerXID.String()).Msg("worker token expired before dequeue")
		case "registered":
			reqLogger.Debug().Str("event", "REGISTER").Str("worker_xid", t.WorkerXID.String()).Msg("worker registered")
		case "deregistered":
			reqLogger.Debug().Str("event", "DEREGISTER").Str("worker_xid", t.WorkerXID.String()).Msg("worker deregistered")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: registry init: %v", dnxerr.ErrInvalid, err)
	}

	var localCheck *regexp.Regexp
	if cfg.LocalCheckPattern != "" {
		localCheck, err = regexp.Compile(cfg.LocalCheckPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: localCheckPattern: %v", dnxerr.ErrSyntax, err)
		}
	}

	s := &ServerContext{
		cfg:               cfg,
		jobList:           jl,
		registry:          reg,
		dispatch:          dispatch,
		collect:           collect,
		publisher:         pub,
		jobIDGen:          xid.NewGenerator(xid.KindJob),
		localCheck:        localCheck,
		TimeoutResultCode: plugin.Unknown,
		logger:            log.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the four server goroutines. They run until ctx is
// cancelled; call Wait afterward to block until all have exited.
func (s *ServerContext) Start(ctx context.Context) {
	s.wg.Add(4)
	go s.registrarLoop(ctx)
	go s.dispatcherLoop(ctx)
	go s.collectorLoop(ctx)
	go s.timerLoop(ctx)
}

// Wait blocks until every goroutine started by Start has exited.
func (s *ServerContext) Wait() {
	s.wg.Wait()
}

// JobList exposes the underlying job list for metrics/status reporting.
func (s *ServerContext) JobList() *joblist.JobList { return s.jobList }

// Registry exposes the underlying request registry for metrics/status.
func (s *ServerContext) Registry() *registry.Registry { return s.registry }

// IngressResult reports what the ingress hook decided.
type IngressResult struct {
	Dispatched bool
	XID        xid.XID
	Declined   string // reason, set only when Dispatched is false
}

// Ingress is called by the monitoring host before it would run a check
// itself. It classifies the command as local or remote, reserves a
// worker token, and creates a PENDING job. Declining (Dispatched=false)
// means the host should run the check itself — this is the degraded but
// correct path, never an error.
func (s *ServerContext) Ingress(commandLine string, timeoutSecs int, upstreamContext any) IngressResult {
	if s.localCheck != nil && s.localCheck.MatchString(commandLine) {
		return IngressResult{Declined: "matches localCheckPattern"}
	}

	token, err := s.registry.Dequeue(time.Now())
	if err != nil {
		return IngressResult{Declined: "no worker token available"}
	}

	now := time.Now()
	newJob := joblist.NewJob{
		XID:             s.jobIDGen.Next(),
		CommandLine:     commandLine,
		StartInstant:    now,
		TimeoutSecs:     timeoutSecs,
		ExpiresInstant:  now.Add(time.Duration(timeoutSecs)*time.Second + ExpiryGrace),
		AssignedWorker:  token,
		UpstreamContext: upstreamContext,
	}
	x, err := s.jobList.Add(newJob)
	if err != nil {
		return IngressResult{Declined: "job list at capacity"}
	}
	metrics.JoblistOccupied.Set(float64(s.jobList.Len()))
	return IngressResult{Dispatched: true, XID: x}
}

func (s *ServerContext) registrarLoop(ctx context.Context) {
	defer s.wg.Done()
	logger := log.WithComponent("registrar")
	for {
		if ctx.Err() != nil {
			return
		}
		buf, peerAddr, err := s.dispatch.Recv(registrarRecvTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			logger.Warn().Err(err).Msg("recv failed")
			continue
		}
		s.handleNodeRequest(buf, peerAddr, logger)
	}
}

func (s *ServerContext) handleNodeRequest(buf []byte, peerAddr string, logger zerolog.Logger) {
	req, err := wire.DecodeNodeRequest(buf)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed node request")
		return
	}
	switch req.ReqType {
	case wire.ReqRegister:
		tok := registry.Token{
			WorkerXID:      req.XID,
			Address:        peerAddr,
			JobCapacity:    req.JobCap,
			TTLSecs:        req.TTL,
			ExpiresInstant: time.Now().Add(time.Duration(req.TTL) * time.Second),
			Hostname:       req.Hostname,
		}
		s.registry.Enqueue(tok)
		metrics.RegistrySize.Set(float64(s.registry.Len()))
	case wire.ReqDeregister:
		s.registry.RemoveMatching(req.XID)
		metrics.RegistrySize.Set(float64(s.registry.Len()))
	default:
		logger.Warn().Int("req_type", int(req.ReqType)).Msg("unsupported node request type")
	}
}

func (s *ServerContext) dispatcherLoop(ctx context.Context) {
	defer s.wg.Done()
	logger := log.WithComponent("dispatcher")
	audit := log.WithComponent("audit")
	for {
		job, err := s.jobList.Dispatch(ctx)
		if err != nil {
			return // ctx cancelled
		}
		msg := wire.Job{
			XID:      job.XID,
			State:    wire.JobInProgress,
			Priority: 0,
			Timeout:  job.TimeoutSecs,
			Command:  job.CommandLine,
		}
		buf, err := msg.Encode()
		if err != nil {
			logger.Error().Err(err).Msg("encode job failed")
			continue
		}
		if err := s.dispatch.Send(buf, job.AssignedWorker.Address); err != nil {
			audit.Info().Str("event", "DISPATCH-FAIL").Str("xid", job.XID.String()).Err(err).Msg("job dispatch send failed")
			continue
		}
		metrics.JobsDispatchedTotal.Inc()
		audit.Info().Str("event", "DISPATCH").Str("xid", job.XID.String()).Str("worker", job.AssignedWorker.Address).Msg("job dispatched")
	}
}

func (s *ServerContext) collectorLoop(ctx context.Context) {
	defer s.wg.Done()
	logger := log.WithComponent("collector")
	audit := log.WithComponent("audit")
	for {
		if ctx.Err() != nil {
			return
		}
		buf, _, err := s.collect.Recv(collectorRecvTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			logger.Warn().Err(err).Msg("recv failed")
			continue
		}
		req, err := wire.PeekRequest(buf)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed collector message")
			continue
		}
		if req == "JobAck" {
			// Observational only (DESIGN.md open question #3): no
			// retransmit policy is implemented, so an ack is logged and
			// otherwise ignored.
			ack, err := wire.DecodeJobAck(buf)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping malformed job ack")
				continue
			}
			logger.Debug().Str("xid", ack.XID.String()).Msg("job ack received")
			continue
		}

		result, err := wire.DecodeResult(buf)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed result")
			continue
		}
		job, err := s.jobList.Collect(result.XID)
		if err != nil {
			// already expired; stray late result, drop silently.
			continue
		}
		metrics.JobsCollectedTotal.Inc()
		metrics.JoblistOccupied.Set(float64(s.jobList.Len()))
		s.publisher.Publish(upstream.Result{
			Context:    job.UpstreamContext,
			ResultCode: result.ResultCode,
			Output:     result.ResultData,
		})
		audit.Info().Str("event", "COLLECT").Str("xid", job.XID.String()).Int("code", result.ResultCode).Msg("job result collected")
	}
}

func (s *ServerContext) timerLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.ExpirePollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	audit := log.WithComponent("audit")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := s.jobList.Expire(time.Now(), MaxExpireBatch)
			for _, job := range expired {
				metrics.JobsExpiredTotal.Inc()
				s.publisher.Publish(upstream.Result{
					Context:    job.UpstreamContext,
					ResultCode: int(s.TimeoutResultCode),
					Output:     TimeoutMessage,
				})
				audit.Info().Str("event", "EXPIRE").Str("xid", job.XID.String()).Msg("job expired")
			}
			if len(expired) > 0 {
				metrics.JoblistOccupied.Set(float64(s.jobList.Len()))
			}
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, dnxerr.ErrTimeout)
}
