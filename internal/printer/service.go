package printer

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/escposd/internal/observability"
	"github.com/danmuck/escposd/internal/protocol/bytequeue"
	"github.com/danmuck/escposd/internal/protocol/escpos"
	"github.com/danmuck/escposd/internal/raster"
	"github.com/rs/zerolog"
)

var ErrInvalidListenAddr = errors.New("printer: invalid listen address")

// ServiceConfig configures the emulator runtime.
type ServiceConfig struct {
	NodeID          string
	ListenAddr      string
	ImageDir        string
	AdminListenAddr string
	CORSOrigins     []string
	MaxRasterBytes  int64
	ReadBufferSize  int
	WriteTimeout    time.Duration
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero leaves stalled connections open.
	IdleTimeout time.Duration
}

// DefaultServiceConfig returns the standalone runtime defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:          "escposd.local",
		ListenAddr:      ":6001",
		ImageDir:        "images",
		AdminListenAddr: "",
		CORSOrigins:     []string{"http://localhost:3000"},
		MaxRasterBytes:  escpos.DefaultMaxRasterBytes,
		ReadBufferSize:  4096,
		WriteTimeout:    5 * time.Second,
		IdleTimeout:     0,
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = def.NodeID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.MaxRasterBytes <= 0 {
		c.MaxRasterBytes = def.MaxRasterBytes
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	return c
}

// Service accepts printer connections and runs one decoder per connection.
type Service struct {
	cfg     ServiceConfig
	store   *raster.Store
	log     zerolog.Logger
	started time.Time

	listening atomic.Bool
	seq       atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*Session
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg = cfg.withDefaults()
	observability.RegisterMetrics()
	return &Service{
		cfg:      cfg,
		store:    raster.NewStore(cfg.ImageDir),
		log:      observability.Component("printer"),
		started:  time.Now(),
		sessions: make(map[uint64]*Session),
	}
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Store() *raster.Store {
	return s.store
}

// Run listens on the configured address and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("image_dir", s.store.Root()).
		Msg("listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.ServeAdmin(ctx, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve accepts connections on ln until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		return ErrInvalidListenAddr
	}
	defer ln.Close()
	s.listening.Store(true)
	defer s.listening.Store(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.closeAllSessions()
			_ = ln.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.closeAllSessions()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Sessions returns a snapshot of open connections ordered by id.
func (s *Service) Sessions() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	sess := s.openSession(conn)
	defer s.closeSession(sess)

	queue := bytequeue.New()
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		sess.pump(queue, s.cfg.ReadBufferSize, s.cfg.IdleTimeout)
	}()

	dec := escpos.NewDecoder(
		queue,
		deadlineWriter{conn: conn, timeout: s.cfg.WriteTimeout},
		escpos.WithSink(escpos.MultiSink{
			escpos.NewLogSink(sess.log),
			observability.MetricsSink{},
			sess,
		}),
		escpos.WithImageStore(s.store),
		escpos.WithMaxRasterBytes(s.cfg.MaxRasterBytes),
	)
	err := dec.Run(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, escpos.ErrReplyWrite):
		sess.log.Warn().Err(err).Msg("reply failed, closing session")
	default:
		sess.log.Error().Err(err).Msg("decoder stopped")
	}

	_ = conn.Close()
	<-pumpDone
}

func (s *Service) openSession(conn net.Conn) *Session {
	id := s.seq.Add(1)
	sess := newSession(id, conn, s.log)

	s.mu.Lock()
	s.sessions[id] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	observability.RecordSessionOpened()
	sess.log.Info().Int("active_sessions", active).Msg("new connection")
	return sess
}

func (s *Service) closeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	remaining := len(s.sessions)
	s.mu.Unlock()

	elapsed := time.Since(sess.connectedAt)
	observability.RecordSessionClosed(elapsed)
	info := sess.Info()
	sess.log.Info().
		Int("active_sessions", remaining).
		Uint64("bytes_in", info.BytesIn).
		Uint64("commands", info.Commands).
		Dur("duration", elapsed).
		Msg("session closed")
}

func (s *Service) closeAllSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

// deadlineWriter bounds each reply write on a stalled peer.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.Write(p)
}
