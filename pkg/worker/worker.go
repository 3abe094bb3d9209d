package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
	"github.com/dnxgo/dnxgo/pkg/log"
	"github.com/dnxgo/dnxgo/pkg/metrics"
	"github.com/dnxgo/dnxgo/pkg/transport"
	"github.com/dnxgo/dnxgo/pkg/wire"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

// outcome classifies one pass through the worker loop's six steps, per
// §4.8: a plain receive timeout never counts toward the retry sleep, a
// send/receive/decode/plugin failure does.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomePlainTimeout
	outcomeFailure
)

// workerLoop is one worker-pool thread, grounded on
// original_source/client/dnxWorker.c's per-thread request/job/result
// cycle. It runs until ctx is cancelled or it exits gracefully as a
// zombie after too many consecutive timeouts.
func (w *WLM) workerLoop(ctx context.Context, idx int) {
	defer w.wg.Done()
	logger := log.WithComponent("worker")

	dispatchCh, err := w.dialer.OpenActive(w.cfg.ChannelDispatcher)
	if err != nil {
		logger.Error().Err(err).Msg("worker could not open dispatch channel")
		w.markZombie(idx)
		return
	}
	defer dispatchCh.Close()

	collectCh, err := w.dialer.OpenActive(w.cfg.ChannelCollector)
	if err != nil {
		logger.Error().Err(err).Msg("worker could not open collect channel")
		w.markZombie(idx)
		return
	}
	defer collectCh.Close()

	timeouts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out := w.runPass(ctx, idx, dispatchCh, collectCh, logger)

		if out == outcomeSuccess {
			timeouts = 0
			continue
		}

		timeouts++
		if timeouts >= w.cfg.MaxConsecutiveTimeouts && !w.poolBelowMin() {
			logger.Info().Int("timeouts", timeouts).Msg("worker exiting gracefully after consecutive timeouts")
			w.markZombie(idx)
			return
		}
		if out == outcomeFailure {
			if !sleepOrDone(ctx, time.Duration(w.cfg.RequestTimeoutSecs)*time.Second) {
				return
			}
		}
	}
}

// runPass performs one build-request/send/receive-job/invoke/send-result
// cycle (§4.8 steps 1-4) and reports which of the three outcome classes
// it landed in.
func (w *WLM) runPass(ctx context.Context, idx int, dispatchCh, collectCh transport.Channel, logger zerolog.Logger) outcome {
	w.mu.Lock()
	w.slots[idx].requestSerial++
	serial := w.slots[idx].requestSerial
	w.mu.Unlock()

	req := wire.NodeRequest{
		XID:     xid.XID{Kind: xid.KindWorker, Serial: serial, Slot: uint64(idx)},
		ReqType: wire.ReqRegister,
		JobCap:  1,
		TTL:     uint32(w.cfg.RequestTimeoutSecs - w.cfg.TTLBackoffSecs),
	}
	buf, err := req.Encode()
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode node request")
		return outcomeFailure
	}
	if err := dispatchCh.Send(buf, ""); err != nil {
		logger.Warn().Err(err).Msg("node request send failed")
		return outcomeFailure
	}

	jobBuf, _, err := dispatchCh.Recv(time.Duration(w.cfg.RequestTimeoutSecs) * time.Second)
	if err != nil {
		if errors.Is(err, dnxerr.ErrTimeout) {
			return outcomePlainTimeout
		}
		logger.Warn().Err(err).Msg("job receive failed")
		return outcomeFailure
	}
	job, err := wire.DecodeJob(jobBuf)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed job message")
		return outcomeFailure
	}

	w.recordJobStart(idx)
	timer := metrics.NewTimer()
	result, err := w.inv.Invoke(ctx, job.Command, time.Duration(job.Timeout)*time.Second)
	delta := timer.Duration()
	w.recordJobEnd(idx, err == nil)
	if err != nil {
		logger.Warn().Err(err).Msg("plugin invocation failed")
		return outcomeFailure
	}
	metrics.ResultCodeTotal.WithLabelValues(result.Code.String()).Inc()
	timer.ObserveDurationVec(metrics.PluginDuration, result.Code.String())

	res := wire.Result{
		XID:        job.XID,
		State:      wire.JobComplete,
		Delta:      uint32(delta.Seconds()),
		ResultCode: int(result.Code),
		ResultData: result.Output,
	}
	resBuf, err := res.Encode()
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode result")
		return outcomeFailure
	}
	if err := collectCh.Send(resBuf, ""); err != nil {
		logger.Warn().Err(err).Msg("result send failed")
		return outcomeFailure
	}
	return outcomeSuccess
}

// sleepOrDone sleeps for d, returning false early if ctx is cancelled
// first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
