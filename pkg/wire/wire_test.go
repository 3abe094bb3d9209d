package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnxgo/dnxgo/pkg/xid"
)

func TestNodeRequestRoundTrip(t *testing.T) {
	m := NodeRequest{
		XID:      xid.XID{Kind: xid.KindWorker, Serial: 7, Slot: 0},
		ReqType:  ReqRegister,
		JobCap:   1,
		TTL:      30,
		Hostname: "worker-1",
	}
	buf, err := m.Encode()
	require.NoError(t, err)
	got, err := DecodeNodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestJobRoundTrip(t *testing.T) {
	m := Job{
		XID:      xid.XID{Kind: xid.KindJob, Serial: 1, Slot: 3},
		State:    JobInProgress,
		Priority: 5,
		Timeout:  60,
		Command:  "check_ping -H 10.0.0.1",
	}
	buf, err := m.Encode()
	require.NoError(t, err)
	got, err := DecodeJob(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestJobAckRoundTrip(t *testing.T) {
	m := JobAck{XID: xid.XID{Kind: xid.KindJob, Serial: 1, Slot: 3}}
	buf, err := m.Encode()
	require.NoError(t, err)
	got, err := DecodeJobAck(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestResultRoundTrip(t *testing.T) {
	m := Result{
		XID:        xid.XID{Kind: xid.KindJob, Serial: 1, Slot: 3},
		State:      JobComplete,
		Delta:      2,
		ResultCode: 0,
		ResultData: "OK - ping 0.5ms",
	}
	buf, err := m.Encode()
	require.NoError(t, err)
	got, err := DecodeResult(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestMgmtRoundTrip(t *testing.T) {
	req := MgmtRequest{XID: xid.XID{Kind: xid.KindManager, Serial: 1}, Action: "SHUTDOWN"}
	buf, err := req.Encode()
	require.NoError(t, err)
	gotReq, err := DecodeMgmtRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, gotReq)

	reply := MgmtReply{XID: req.XID, Status: StatusACK, Reply: "shutting down"}
	buf, err = reply.Encode()
	require.NoError(t, err)
	gotReply, err := DecodeMgmtReply(buf)
	require.NoError(t, err)
	assert.Equal(t, reply, gotReply)
}

func TestGUIDAliasAcceptedOnDecode(t *testing.T) {
	// Simulate an old sender that only emits GUID, never XID.
	raw := "<dnxMessage><Request>JobAck</Request><GUID>2-5-1</GUID></dnxMessage>"
	m, err := DecodeJobAck([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, xid.XID{Kind: xid.KindWorker, Serial: 5, Slot: 1}, m.XID)
}

func TestEncodeEmitsBothXIDAndGUIDTags(t *testing.T) {
	old := EmitLegacyAlias
	EmitLegacyAlias = true
	defer func() { EmitLegacyAlias = old }()

	m := JobAck{XID: xid.XID{Kind: xid.KindJob, Serial: 1, Slot: 2}}
	buf, err := m.Encode()
	require.NoError(t, err)
	s := string(buf)
	assert.Contains(t, s, "<XID>1-1-2</XID>")
	assert.Contains(t, s, "<GUID>1-1-2</GUID>")
}

func TestUnknownTagsAreIgnored(t *testing.T) {
	raw := "<dnxMessage><Request>JobAck</Request><XID>2-5-1</XID><Bogus>whatever</Bogus></dnxMessage>"
	m, err := DecodeJobAck([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, xid.XID{Kind: xid.KindWorker, Serial: 5, Slot: 1}, m.XID)
}

func TestOverLongMessageRejected(t *testing.T) {
	big := make([]byte, MaxMessageSize+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := DecodeJobAck(big)
	require.Error(t, err)
}

func TestWrongRequestTypeRejected(t *testing.T) {
	m := Job{XID: xid.XID{Kind: xid.KindJob, Serial: 1}, Command: "x"}
	buf, err := m.Encode()
	require.NoError(t, err)
	_, err = DecodeResult(buf)
	assert.Error(t, err)
}

func TestPeekRequest(t *testing.T) {
	m := JobAck{XID: xid.XID{Kind: xid.KindJob, Serial: 9}}
	buf, err := m.Encode()
	require.NoError(t, err)
	req, err := PeekRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, "JobAck", req)
}
