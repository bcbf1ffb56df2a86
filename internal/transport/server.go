package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/user"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
	"github.com/lakshaymaurya-felt/monolingual/internal/scrub"
)

// Path is the websocket endpoint served on the socket.
const Path = "/v1/scrub"

const (
	maxMessageSize    = 4 << 20
	firstMessageWait  = 30 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	sendBuffer        = 64
	readHeaderTimeout = 10 * time.Second
)

// Server runs one request per websocket connection.
type Server struct {
	Engine *scrub.Engine
	Logger *log.Logger
	// IdleTimeout shuts the server down after this long without a
	// connection. Zero disables it.
	IdleTimeout time.Duration
	// PeerUID identifies the connecting user. Defaults to the socket's peer
	// credentials.
	PeerUID func(net.Conn) (uint32, error)
	// IsAdmin reports whether a peer may act with the helper's full
	// rights. Defaults to membership in one of adminGroups. Other peers
	// only get changes their own permissions would allow.
	IsAdmin func(uid uint32) bool

	active       atomic.Int32
	lastActivity atomic.Int64
	handlers     sync.WaitGroup
}

type connKey struct{}

// Listen creates the unix socket at path, replacing a stale one, and makes
// it reachable by every local user. Authorization happens per request.
func Listen(path string) (net.Listener, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		_ = os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Handler returns the HTTP handler serving Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handleScrub)
	return mux
}

// Serve accepts connections on ln until ctx is done or the idle timeout
// fires, then waits for running requests to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.touch()
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return context.WithValue(ctx, connKey{}, c)
		},
	}

	go s.watchIdle(ctx, cancel)
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), writeWait)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.Serve(ln)
	s.handlers.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Server) watchIdle(ctx context.Context, stop context.CancelFunc) {
	if s.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(min(s.IdleTimeout/4, time.Second), time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, s.lastActivity.Load()))
			if s.active.Load() == 0 && idle >= s.IdleTimeout {
				s.logf("idle for %s, shutting down", idle.Round(time.Second))
				stop()
				return
			}
		}
	}
}

// ─── Connection handling ─────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers cannot reach a unix socket; refuse anything that looks
	// like one anyway.
	CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "" },
}

func (s *Server) handleScrub(w http.ResponseWriter, r *http.Request) {
	s.handlers.Add(1)
	defer s.handlers.Done()
	s.active.Add(1)
	defer func() {
		s.active.Add(-1)
		s.touch()
	}()

	peer, peerErr := s.peerUID(r)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("upgrade: %v", err)
		return
	}
	defer ws.Close()

	// The connection outlives server shutdown long enough to report the
	// canceled run.
	c := newServerConn(context.WithoutCancel(r.Context()), ws)
	defer c.close()

	req, err := c.readRequest()
	if err != nil {
		s.logf("read request: %v", err)
		c.sendError(codeProtocol, err)
		return
	}
	if err := authorize(peer, peerErr, req); err != nil {
		s.logf("rejecting request: %v", err)
		c.sendError(codeUnauthorized, err)
		return
	}

	runCtx, cancelRun := context.WithCancel(r.Context())
	defer cancelRun()
	stop := context.AfterFunc(c.ctx, cancelRun)
	defer stop()
	go c.readLoop(cancelRun)

	if err := c.send(TypeStarted, &structpb.Struct{Fields: map[string]*structpb.Value{
		"pid": structpb.NewNumberValue(float64(os.Getpid())),
	}}); err != nil {
		return
	}

	engine := s.Engine
	if engine == nil {
		engine = &scrub.Engine{Logger: s.Logger}
	}
	if !s.trusted(peer, peerErr) {
		s.logf("uid %d is not an administrator; checking items against its own permissions", req.UID)
		confined := *engine
		confined.OwnerChecks = true
		engine = &confined
	}
	sink := progress.SinkFunc(func(e progress.Event) error {
		return c.send(TypeEvent, eventToStruct(e))
	})
	sum, err := engine.Run(runCtx, req, sink)
	if err != nil {
		s.logf("run %s: %v", sum.RunID, err)
		if c.ctx.Err() == nil {
			c.sendError(codeInternal, err)
		}
		return
	}
	_ = c.send(TypeDone, summaryToStruct(sum))
}

func (s *Server) peerUID(r *http.Request) (uint32, error) {
	conn, ok := r.Context().Value(connKey{}).(net.Conn)
	if !ok {
		return 0, errors.New("no connection in request context")
	}
	if s.PeerUID != nil {
		return s.PeerUID(conn)
	}
	return peerUID(conn)
}

// authorize lets root run anything and everyone else only requests on
// their own behalf. Without peer credentials only an unprivileged helper
// serves requests, since it cannot exceed its caller's rights anyway.
func authorize(peer uint32, peerErr error, req *request.HelperRequest) error {
	if peerErr != nil {
		if os.Geteuid() == 0 {
			return fmt.Errorf("%w: cannot identify peer: %v", ErrUnauthorized, peerErr)
		}
		return nil
	}
	if peer != 0 && peer != req.UID {
		return fmt.Errorf("%w: uid %d may not act for uid %d", ErrUnauthorized, peer, req.UID)
	}
	return nil
}

// adminGroups hold the users who could gain root anyway.
var adminGroups = []string{"admin", "wheel", "sudo"}

func (s *Server) trusted(peer uint32, peerErr error) bool {
	if peerErr != nil {
		return false
	}
	if peer == 0 {
		return true
	}
	if s.IsAdmin != nil {
		return s.IsAdmin(peer)
	}
	return isAdmin(peer)
}

func isAdmin(uid uint32) bool {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}
	ids, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, name := range adminGroups {
		if g, err := user.LookupGroup(name); err == nil && slices.Contains(ids, g.Gid) {
			return true
		}
	}
	return false
}

func syscallConn(c net.Conn) (syscall.RawConn, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("%T has no file descriptor", c)
	}
	return sc.SyscallConn()
}

// serverConn owns one websocket. Only its writer goroutine writes data
// frames.
type serverConn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte
	wg     sync.WaitGroup
	once   sync.Once
}

func newServerConn(parent context.Context, ws *websocket.Conn) *serverConn {
	ctx, cancel := context.WithCancel(parent)
	c := &serverConn{ws: ws, ctx: ctx, cancel: cancel, out: make(chan []byte, sendBuffer)}
	ws.SetReadLimit(maxMessageSize)
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

func (c *serverConn) readRequest() (*request.HelperRequest, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(firstMessageWait))
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: expected a binary frame", ErrProtocol)
	}
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Type != TypeRequest {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrProtocol, TypeRequest, env.Type)
	}
	return request.Decode(env.Body), nil
}

// readLoop watches for cancel messages and disconnects. Either one stops
// the run.
func (c *serverConn) readLoop(cancelRun context.CancelFunc) {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			cancelRun()
			c.cancel()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if env, err := unmarshalEnvelope(data); err == nil && env.Type == TypeCancel {
			cancelRun()
		}
	}
}

// send queues a frame. It blocks rather than drop an event and fails only
// when the connection is gone.
func (c *serverConn) send(typ string, body *structpb.Struct) error {
	frame, err := marshalEnvelope(typ, body)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrHelperDisconnected
	}
}

func (c *serverConn) sendError(code string, err error) {
	_ = c.send(TypeError, errorStruct(code, err))
}

func (c *serverConn) writeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.cancel()
				c.drain()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.cancel()
				c.drain()
				return
			}
		}
	}
}

// drain discards queued frames after a write failure.
func (c *serverConn) drain() {
	for range c.out {
	}
}

// close flushes queued frames, sends a close frame and waits for the
// writer to exit.
func (c *serverConn) close() {
	c.once.Do(func() {
		close(c.out)
		c.wg.Wait()
		c.cancel()
	})
}
