package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
	"github.com/dnxgo/dnxgo/pkg/log"
	"github.com/dnxgo/dnxgo/pkg/transport"
	"github.com/dnxgo/dnxgo/pkg/wire"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

// mgmtRecvTimeout matches §4.10's fixed 10-second recv deadline.
const mgmtRecvTimeout = 10 * time.Second

// MgmtListener is the client's fifth thread: a single passive channel
// accepting MgmtRequest messages on the agent URL. Grounded on
// original_source/client/dnxWorker.c's management-channel loop.
type MgmtListener struct {
	ch     transport.Channel
	wlm    *WLM
	logger zerolog.Logger
}

// NewMgmtListener opens the passive channel and binds it to wlm.
func NewMgmtListener(opener PassiveOpener, addr string, wlm *WLM) (*MgmtListener, error) {
	ch, err := opener.OpenPassive(addr)
	if err != nil {
		return nil, err
	}
	return &MgmtListener{ch: ch, wlm: wlm, logger: log.WithComponent("mgmt")}, nil
}

// Run blocks, servicing management requests until ctx is cancelled or a
// SHUTDOWN request is received. SHUTDOWN sets the WLM's termination flag
// and returns; STATUS replies with the pool's live counters (an addition
// over the original's unspecified reply, per SPEC_FULL.md §4.10); other
// tokens are reserved and ignored.
func (l *MgmtListener) Run(ctx context.Context) {
	defer l.ch.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf, peerAddr, err := l.ch.Recv(mgmtRecvTimeout)
		if err != nil {
			if errors.Is(err, dnxerr.ErrTimeout) {
				continue
			}
			l.logger.Warn().Err(err).Msg("mgmt receive failed")
			continue
		}

		req, err := wire.DecodeMgmtRequest(buf)
		if err != nil {
			l.logger.Warn().Err(err).Msg("malformed mgmt request")
			continue
		}

		switch req.Action {
		case "SHUTDOWN":
			l.logger.Info().Msg("shutdown requested over management channel")
			l.wlm.RequestStop()
			l.reply(peerAddr, req.XID, wire.StatusACK, "shutting down")
			return
		case "STATUS":
			reply := fmt.Sprintf("activeThreads=%d activeJobs=%d", l.wlm.ActiveThreads(), l.wlm.ActiveJobs())
			l.reply(peerAddr, req.XID, wire.StatusACK, reply)
		default:
			l.logger.Debug().Str("action", req.Action).Msg("unknown management action ignored")
		}
	}
}

func (l *MgmtListener) reply(peerAddr string, x xid.XID, status wire.MgmtStatus, msg string) {
	rep := wire.MgmtReply{XID: x, Status: status, Reply: msg}
	buf, err := rep.Encode()
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to encode mgmt reply")
		return
	}
	if err := l.ch.Send(buf, peerAddr); err != nil {
		l.logger.Warn().Err(err).Msg("mgmt reply send failed")
	}
}
