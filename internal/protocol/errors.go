package protocol

import "fmt"

// ErrNeedMore signals that the buffer does not yet contain a full
// frame; it is not a failure, callers should read more bytes and
// retry Decode with the same (or a grown) buffer.
var ErrNeedMore = fmt.Errorf("protocol: need more bytes")

// ErrUnsupportedPacket is returned by Decode when a frame type isn't
// in the GG 6.0 packet set this codec understands.
type ErrUnsupportedPacket struct {
	Type uint32
}

func (e *ErrUnsupportedPacket) Error() string {
	return fmt.Sprintf("protocol: unsupported packet type 0x%04X", e.Type)
}

// ErrMalformed indicates a frame's body could not be parsed according
// to its type's layout, even though the declared length was enough to
// consume in full.
type ErrMalformed struct {
	Reason string
}

func (e *ErrMalformed) Error() string {
	return "protocol: malformed packet: " + e.Reason
}
