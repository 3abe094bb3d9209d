// Package wire implements the DNX wire protocol: a small set of tagged
// messages carried over unreliable datagrams, each wrapped in a
// "<dnxMessage><Request>Type</Request>...</dnxMessage>" envelope (see
// original_source/common/dnxXml.c and dnxProtocol.c).
package wire

import (
	"fmt"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

// ReqType distinguishes the two worker-request verbs.
type ReqType int

const (
	ReqRegister ReqType = iota
	ReqDeregister
)

// JobState mirrors joblist.State on the wire.
type JobState int

const (
	JobNull JobState = iota
	JobPending
	JobInProgress
	JobComplete
	JobExpired
)

// MgmtStatus is the outcome tag on a MgmtReply.
type MgmtStatus string

const (
	StatusACK MgmtStatus = "ACK"
	StatusNAK MgmtStatus = "NAK"
)

// EmitLegacyAlias controls whether encoders also emit the GUID alias tag
// alongside XID, per the spec's one-release-cycle interoperability window.
// It is a package variable (rather than a per-call parameter threaded
// through every Encode) because it is a deployment-wide compatibility
// toggle. It defaults to true; no configuration key sets it.
var EmitLegacyAlias = true

// NodeRequest is sent by a worker thread to request a job, or to
// deregister itself from the server's request registry.
type NodeRequest struct {
	XID      xid.XID
	ReqType  ReqType
	JobCap   uint32
	TTL      uint32
	Hostname string
}

func (m NodeRequest) Encode() ([]byte, error) {
	w := newEnvelope("NodeRequest")
	w.addXIDWithAlias(m.XID, EmitLegacyAlias)
	w.addInt("ReqType", int(m.ReqType))
	w.addUint("JobCap", uint64(m.JobCap))
	w.addUint("TTL", uint64(m.TTL))
	w.addStr("Hostname", m.Hostname)
	return w.close()
}

func DecodeNodeRequest(buf []byte) (NodeRequest, error) {
	r, req, err := parseEnvelope(buf)
	if err != nil {
		return NodeRequest{}, err
	}
	if req != "NodeRequest" {
		return NodeRequest{}, fmt.Errorf("%w: expected NodeRequest, got %q", dnxerr.ErrSyntax, req)
	}
	var m NodeRequest
	if m.XID, err = r.getXID(); err != nil {
		return NodeRequest{}, err
	}
	rt, err := r.getInt("ReqType")
	if err != nil {
		return NodeRequest{}, err
	}
	m.ReqType = ReqType(rt)
	cap64, err := r.getUint("JobCap")
	if err != nil {
		return NodeRequest{}, err
	}
	m.JobCap = uint32(cap64)
	ttl64, err := r.getUint("TTL")
	if err != nil {
		return NodeRequest{}, err
	}
	m.TTL = uint32(ttl64)
	m.Hostname, _ = r.get("Hostname") // optional, used only for diagnostics
	return m, nil
}

// Job is sent by the dispatcher to a worker thread's dispatch channel.
type Job struct {
	XID      xid.XID
	State    JobState
	Priority int
	Timeout  int
	Command  string
}

func (m Job) Encode() ([]byte, error) {
	w := newEnvelope("Job")
	w.addXIDWithAlias(m.XID, EmitLegacyAlias)
	w.addInt("State", int(m.State))
	w.addInt("Priority", m.Priority)
	w.addInt("Timeout", m.Timeout)
	w.addStr("Command", m.Command)
	return w.close()
}

func DecodeJob(buf []byte) (Job, error) {
	r, req, err := parseEnvelope(buf)
	if err != nil {
		return Job{}, err
	}
	if req != "Job" {
		return Job{}, fmt.Errorf("%w: expected Job, got %q", dnxerr.ErrSyntax, req)
	}
	var m Job
	if m.XID, err = r.getXID(); err != nil {
		return Job{}, err
	}
	st, err := r.getInt("State")
	if err != nil {
		return Job{}, err
	}
	m.State = JobState(st)
	if m.Priority, err = r.getInt("Priority"); err != nil {
		return Job{}, err
	}
	if m.Timeout, err = r.getInt("Timeout"); err != nil {
		return Job{}, err
	}
	if m.Command, err = r.getRequired("Command"); err != nil {
		return Job{}, err
	}
	return m, nil
}

// JobAck is sent by a worker after receiving a Job, purely observational:
// the server logs its receipt but does not retransmit on a missing ack
// (spec §9 open question, resolved in DESIGN.md).
type JobAck struct {
	XID xid.XID
}

func (m JobAck) Encode() ([]byte, error) {
	w := newEnvelope("JobAck")
	w.addXIDWithAlias(m.XID, EmitLegacyAlias)
	return w.close()
}

func DecodeJobAck(buf []byte) (JobAck, error) {
	r, req, err := parseEnvelope(buf)
	if err != nil {
		return JobAck{}, err
	}
	if req != "JobAck" {
		return JobAck{}, fmt.Errorf("%w: expected JobAck, got %q", dnxerr.ErrSyntax, req)
	}
	x, err := r.getXID()
	if err != nil {
		return JobAck{}, err
	}
	return JobAck{XID: x}, nil
}

// Result carries a completed or timed-out check back to the collector.
type Result struct {
	XID        xid.XID
	State      JobState
	Delta      uint32 // measured execution time in seconds
	ResultCode int    // plugin.OK / WARNING / CRITICAL / UNKNOWN
	ResultData string
}

func (m Result) Encode() ([]byte, error) {
	w := newEnvelope("Result")
	w.addXIDWithAlias(m.XID, EmitLegacyAlias)
	w.addInt("State", int(m.State))
	w.addUint("Delta", uint64(m.Delta))
	w.addInt("ResultCode", m.ResultCode)
	data := m.ResultData
	if data == "" {
		data = "(DNX: No output!)"
	}
	w.addStr("ResultData", data)
	return w.close()
}

func DecodeResult(buf []byte) (Result, error) {
	r, req, err := parseEnvelope(buf)
	if err != nil {
		return Result{}, err
	}
	if req != "Result" {
		return Result{}, fmt.Errorf("%w: expected Result, got %q", dnxerr.ErrSyntax, req)
	}
	var m Result
	if m.XID, err = r.getXID(); err != nil {
		return Result{}, err
	}
	st, err := r.getInt("State")
	if err != nil {
		return Result{}, err
	}
	m.State = JobState(st)
	delta, err := r.getUint("Delta")
	if err != nil {
		return Result{}, err
	}
	m.Delta = uint32(delta)
	if m.ResultCode, err = r.getInt("ResultCode"); err != nil {
		return Result{}, err
	}
	if m.ResultData, err = r.getRequired("ResultData"); err != nil {
		return Result{}, err
	}
	return m, nil
}

// MgmtRequest is sent by the management client (dnxctl) to a worker's
// management listener.
type MgmtRequest struct {
	XID    xid.XID
	Action string
}

func (m MgmtRequest) Encode() ([]byte, error) {
	w := newEnvelope("MgmtRequest")
	w.addXIDWithAlias(m.XID, EmitLegacyAlias)
	w.addStr("Action", m.Action)
	return w.close()
}

func DecodeMgmtRequest(buf []byte) (MgmtRequest, error) {
	r, req, err := parseEnvelope(buf)
	if err != nil {
		return MgmtRequest{}, err
	}
	if req != "MgmtRequest" {
		return MgmtRequest{}, fmt.Errorf("%w: expected MgmtRequest, got %q", dnxerr.ErrSyntax, req)
	}
	var m MgmtRequest
	if m.XID, err = r.getXID(); err != nil {
		return MgmtRequest{}, err
	}
	if m.Action, err = r.getRequired("Action"); err != nil {
		return MgmtRequest{}, err
	}
	return m, nil
}

// MgmtReply answers a MgmtRequest.
type MgmtReply struct {
	XID    xid.XID
	Status MgmtStatus
	Reply  string
}

func (m MgmtReply) Encode() ([]byte, error) {
	w := newEnvelope("MgmtReply")
	w.addXIDWithAlias(m.XID, EmitLegacyAlias)
	w.addStr("Status", string(m.Status))
	w.addStr("Reply", m.Reply)
	return w.close()
}

func DecodeMgmtReply(buf []byte) (MgmtReply, error) {
	r, req, err := parseEnvelope(buf)
	if err != nil {
		return MgmtReply{}, err
	}
	if req != "MgmtReply" {
		return MgmtReply{}, fmt.Errorf("%w: expected MgmtReply, got %q", dnxerr.ErrSyntax, req)
	}
	var m MgmtReply
	if m.XID, err = r.getXID(); err != nil {
		return MgmtReply{}, err
	}
	status, err := r.getRequired("Status")
	if err != nil {
		return MgmtReply{}, err
	}
	m.Status = MgmtStatus(status)
	m.Reply, _ = r.get("Reply")
	return m, nil
}

// PeekRequest reads only the Request tag, letting a receiver dispatch to
// the right Decode* function without double-scanning the buffer.
func PeekRequest(buf []byte) (string, error) {
	_, req, err := parseEnvelope(buf)
	return req, err
}
