package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dnxgo/dnxgo/pkg/dnxerr"
	"github.com/dnxgo/dnxgo/pkg/xid"
)

// MaxMessageSize is the maximum encoded message size in bytes. Messages
// larger than this are rejected on both send and receive.
const MaxMessageSize = 1024

// envelope is "<dnxMessage><Request>Tag</Request>...</dnxMessage>". The
// original DNX wire format is a flat, non-nested, unescaped tag grammar —
// not well-formed XML — so it is scanned with a small linear tag reader
// rather than decoded with encoding/xml, matching the original
// dnxXmlGetTagValue's search-for-open-bracket approach.
type tagWriter struct {
	b strings.Builder
}

func newEnvelope(request string) *tagWriter {
	w := &tagWriter{}
	w.b.WriteString("<dnxMessage><Request>")
	w.b.WriteString(request)
	w.b.WriteString("</Request>")
	return w
}

func (w *tagWriter) add(tag, value string) {
	w.b.WriteString("<")
	w.b.WriteString(tag)
	w.b.WriteString(">")
	w.b.WriteString(value)
	w.b.WriteString("</")
	w.b.WriteString(tag)
	w.b.WriteString(">")
}

func (w *tagWriter) addInt(tag string, v int)       { w.add(tag, strconv.Itoa(v)) }
func (w *tagWriter) addUint(tag string, v uint64)   { w.add(tag, strconv.FormatUint(v, 10)) }
func (w *tagWriter) addXID(tag string, x xid.XID)   { w.add(tag, x.String()) }
func (w *tagWriter) addStr(tag, v string)           { w.add(tag, v) }

// close terminates the envelope and enforces the wire size ceiling.
func (w *tagWriter) close() ([]byte, error) {
	w.b.WriteString("</dnxMessage>")
	buf := []byte(w.b.String())
	if len(buf) > MaxMessageSize {
		return nil, fmt.Errorf("%w: encoded message is %d bytes (max %d)", dnxerr.ErrSize, len(buf), MaxMessageSize)
	}
	return buf, nil
}

type tagReader struct {
	s string
}

func parseEnvelope(buf []byte) (*tagReader, string, error) {
	if len(buf) > MaxMessageSize {
		return nil, "", fmt.Errorf("%w: message is %d bytes (max %d)", dnxerr.ErrSize, len(buf), MaxMessageSize)
	}
	s := string(buf)
	if !strings.HasPrefix(s, "<dnxMessage>") || !strings.HasSuffix(s, "</dnxMessage>") {
		return nil, "", fmt.Errorf("%w: missing dnxMessage envelope", dnxerr.ErrSyntax)
	}
	r := &tagReader{s: s}
	req, ok := r.get("Request")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing Request tag", dnxerr.ErrSyntax)
	}
	return r, req, nil
}

// get returns the first occurrence of <tag>...</tag>. Unknown tags are
// simply never looked up; this linear scan naturally ignores them.
func (r *tagReader) get(tag string) (string, bool) {
	open := "<" + tag + ">"
	idx := strings.Index(r.s, open)
	if idx < 0 {
		return "", false
	}
	start := idx + len(open)
	closeTag := "</" + tag + ">"
	end := strings.Index(r.s[start:], closeTag)
	if end < 0 {
		return "", false
	}
	return r.s[start : start+end], true
}

func (r *tagReader) getRequired(tag string) (string, error) {
	v, ok := r.get(tag)
	if !ok {
		return "", fmt.Errorf("%w: missing required tag %q", dnxerr.ErrSyntax, tag)
	}
	return v, nil
}

func (r *tagReader) getInt(tag string) (int, error) {
	v, err := r.getRequired(tag)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: tag %q: %v", dnxerr.ErrSyntax, tag, err)
	}
	return n, nil
}

func (r *tagReader) getUint(tag string) (uint64, error) {
	v, err := r.getRequired(tag)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: tag %q: %v", dnxerr.ErrSyntax, tag, err)
	}
	return n, nil
}

// getXID reads the XID tag, falling back to the legacy GUID alias per the
// spec's interoperability note: "older messages using the tag GUID for the
// XID field must be accepted as an alias for XID on receive".
func (r *tagReader) getXID() (xid.XID, error) {
	v, ok := r.get("XID")
	if !ok {
		v, ok = r.get("GUID")
		if !ok {
			return xid.XID{}, fmt.Errorf("%w: missing XID/GUID tag", dnxerr.ErrSyntax)
		}
	}
	return xid.Parse(v)
}

// addXIDWithAlias emits both XID and GUID tags for one release cycle per
// the spec's interoperability note, so older receivers keyed on GUID keep
// working while newer receivers read XID.
func (w *tagWriter) addXIDWithAlias(x xid.XID, emitAlias bool) {
	w.addXID("XID", x)
	if emitAlias {
		w.addXID("GUID", x)
	}
}
