package session

import (
	"net"

	"github.com/skorotkiewicz/gg-retro/internal/protocol"
)

// readBufSize is the chunk size for each net.Conn.Read call feeding
// the framing buffer.
const readBufSize = 4096

// inboundFrame is one decoded frame, or the error that ended the
// reader goroutine.
type inboundFrame struct {
	frame *protocol.Frame
	err   error
}

// startReader spawns the goroutine that owns conn's read side: it
// accumulates bytes and emits one decoded frame at a time on the
// returned channel, mirroring the teacher's readPump except decoding
// GG frames instead of WebSocket messages. The channel is closed after
// the final inboundFrame (always one carrying a non-nil err, even on
// a clean peer close, per net.Conn.Read's io.EOF contract).
func startReader(conn net.Conn, mode protocol.Mode) <-chan inboundFrame {
	out := make(chan inboundFrame)

	go func() {
		defer close(out)

		var buf []byte
		chunk := make([]byte, readBufSize)

		for {
			for {
				frame, consumed, err := protocol.Decode(buf, mode)
				if err == protocol.ErrNeedMore {
					break
				}
				if err != nil {
					out <- inboundFrame{err: err}
					return
				}
				out <- inboundFrame{frame: frame}
				buf = buf[consumed:]
			}

			n, err := conn.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				out <- inboundFrame{err: err}
				return
			}
		}
	}()

	return out
}
