package printer

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/escposd/internal/observability"
	"github.com/danmuck/escposd/internal/protocol/bytequeue"
	"github.com/danmuck/escposd/internal/protocol/escpos"
	"github.com/rs/zerolog"
)

// SessionInfo is the admin view of one open connection.
type SessionInfo struct {
	ID          uint64    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	BytesIn     uint64    `json:"bytes_in"`
	Commands    uint64    `json:"commands"`
	Images      uint64    `json:"images"`
	Unknown     uint64    `json:"unknown"`
	LastCommand string    `json:"last_command,omitempty"`
}

// Session is one connection bound to one decoder and one byte queue.
type Session struct {
	id          uint64
	conn        net.Conn
	remote      string
	connectedAt time.Time
	log         zerolog.Logger

	bytesIn     atomic.Uint64
	commands    atomic.Uint64
	images      atomic.Uint64
	unknown     atomic.Uint64
	lastCommand atomic.Value
}

func newSession(id uint64, conn net.Conn, base zerolog.Logger) *Session {
	remote := conn.RemoteAddr().String()
	return &Session{
		id:          id,
		conn:        conn,
		remote:      remote,
		connectedAt: time.Now(),
		log:         observability.SessionLogger(base, id, remote),
	}
}

func (s *Session) Info() SessionInfo {
	last, _ := s.lastCommand.Load().(string)
	return SessionInfo{
		ID:          s.id,
		Remote:      s.remote,
		ConnectedAt: s.connectedAt,
		BytesIn:     s.bytesIn.Load(),
		Commands:    s.commands.Load(),
		Images:      s.images.Load(),
		Unknown:     s.unknown.Load(),
		LastCommand: last,
	}
}

// Emit counts decoded commands for the admin view.
func (s *Session) Emit(ev escpos.Event) {
	s.commands.Add(1)
	switch ev.Kind {
	case escpos.KindImage:
		s.images.Add(1)
	case escpos.KindUnknown:
		s.unknown.Add(1)
	}
	s.lastCommand.Store(string(ev.Kind))
}

// pump copies inbound bytes into q in arrival order and closes q when the
// connection ends, which releases any decoder wait with end of stream.
func (s *Session) pump(q *bytequeue.Queue, bufSize int, idle time.Duration) {
	defer q.Close()
	buf := make([]byte, bufSize)
	for {
		if idle > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.bytesIn.Add(uint64(n))
			observability.RecordBytesReceived(n)
			q.PushBytes(buf[:n])
		}
		if err != nil {
			s.logReadEnd(err)
			return
		}
	}
}

func (s *Session) logReadEnd(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		s.log.Info().Msg("remote end closed connection")
	case errors.Is(err, net.ErrClosed):
		s.log.Debug().Msg("connection closed locally")
	case errors.As(err, &netErr) && netErr.Timeout():
		s.log.Warn().Msg("connection idle timeout")
	default:
		s.log.Warn().Err(err).Msg("connection read failed")
	}
}
