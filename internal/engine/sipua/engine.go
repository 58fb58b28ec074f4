// Package sipua is the SIP signaling engine: it keeps the registrar binding
// and turns inbound INVITE transactions into session events.
package sipua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/events"
	"github.com/sebas/softphone/internal/lifecycle"
	"github.com/sebas/softphone/internal/session"
	"github.com/sebas/softphone/internal/store"
)

// ErrNotRunning is returned by requests issued while the engine is stopped.
var ErrNotRunning = errors.New("sip engine not running")

// sweepInterval is how often unanswered offers are checked for expiry.
const sweepInterval = time.Second

// responder is the part of a server transaction the engine uses.
type responder interface {
	Respond(res *sip.Response) error
}

// pendingInvite is an offer waiting for an answer, a CANCEL or expiry.
type pendingInvite struct {
	req     *sip.Request
	tx      responder
	toTag   string
	session session.Session
}

func (p *pendingInvite) response(code int, reason string) *sip.Response {
	res := sip.NewResponseFromRequest(p.req, sip.StatusCode(code), reason, nil)
	if to := res.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params.Add("tag", p.toTag)
		}
	}
	return res
}

// Engine is a sipgo user agent bound to one account.
type Engine struct {
	cfg   config.Config
	pub   events.Publisher
	b     *events.Builder
	clock clock.Clock

	registrar sip.Uri
	aor       sip.Uri
	callID    string // stable across REGISTER refreshes
	fromTag   string

	regMu sync.Mutex // serializes REGISTER transactions
	cseq  uint32

	mu       sync.Mutex
	running  bool
	ua       *sipgo.UserAgent
	client   *sipgo.Client
	listener io.Closer
	cancel   context.CancelFunc
	contact  sip.Uri
	pending  *store.TTLStore[string, *pendingInvite]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for session timestamps and offer expiry.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an engine for cfg that publishes to pub. Nothing is opened
// until Start.
func New(cfg config.Config, pub events.Publisher, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		pub:     pub,
		clock:   clock.New(),
		callID:  uuid.NewString(),
		fromTag: newTag(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.b = events.NewBuilder("sipua").WithClock(e.clock.Now)

	if err := sip.ParseUri(cfg.SIP.Server, &e.registrar); err != nil {
		return nil, fmt.Errorf("parse server uri %q: %w", cfg.SIP.Server, err)
	}
	if err := sip.ParseUri(cfg.SIP.AOR, &e.aor); err != nil {
		return nil, fmt.Errorf("parse aor %q: %w", cfg.SIP.AOR, err)
	}
	return e, nil
}

// Factory adapts New to lifecycle.EngineFactory.
func Factory(cfg config.Config, pub events.Publisher) (lifecycle.Engine, error) {
	return New(cfg, pub)
}

func (e *Engine) publish(ev events.Event) {
	if err := e.pub.Publish(context.Background(), ev); err != nil {
		slog.Debug("[SIP] Event not delivered", "type", ev.Type(), "error", err)
	}
}

// open prepares the per-run state that does not touch the network.
func (e *Engine) open() {
	pending := store.New[string, *pendingInvite](sweepInterval,
		store.WithClock[string, *pendingInvite](e.clock),
		store.WithOnEvict(e.expireInvite),
	)
	e.mu.Lock()
	e.pending = pending
	e.running = true
	e.mu.Unlock()
}

// Start opens the transport and probes the registrar with OPTIONS. Any
// response to the probe counts as reachable.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		return nil
	}

	e.publish(e.b.Connecting(e.cfg.SIP.Server))

	if err := e.startStack(); err != nil {
		slog.Error("[SIP] Start failed", "server", e.cfg.SIP.Server, "error", err)
		e.publish(e.b.Disconnected(nil))
		return err
	}

	res, err := e.probe(ctx)
	if err != nil {
		slog.Error("[SIP] Registrar unreachable", "server", e.cfg.SIP.Server, "error", err)
		e.shutdown()
		e.publish(e.b.Disconnected(nil))
		return fmt.Errorf("probe %s: %w", e.cfg.SIP.Server, err)
	}

	slog.Info("[SIP] Connected",
		"server", e.cfg.SIP.Server,
		"transport", e.cfg.SIP.Transport,
		"probe_status", int(res.StatusCode),
	)
	e.publish(e.b.Connected(e.cfg.SIP.Server))
	return nil
}

// startStack creates the user agent, binds the listener and starts serving.
func (e *Engine) startStack() error {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(e.cfg.SIP.UserAgent))
	if err != nil {
		return fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("failed to create client: %w", err)
	}

	srv.OnRequest(sip.INVITE, func(req *sip.Request, tx sip.ServerTransaction) { e.handleInvite(req, tx) })
	srv.OnRequest(sip.CANCEL, func(req *sip.Request, tx sip.ServerTransaction) { e.handleCancel(req, tx) })
	srv.OnRequest(sip.BYE, func(req *sip.Request, tx sip.ServerTransaction) { e.handleBye(req, tx) })
	srv.OnRequest(sip.OPTIONS, func(req *sip.Request, tx sip.ServerTransaction) { e.handleOptions(req, tx) })
	srv.OnRequest(sip.ACK, func(req *sip.Request, tx sip.ServerTransaction) {})

	serveCtx, cancel := context.WithCancel(context.Background())
	listener, local, err := e.listen(serveCtx, srv)
	if err != nil {
		cancel()
		ua.Close()
		return err
	}

	e.open()
	e.mu.Lock()
	e.ua, e.client, e.listener, e.cancel = ua, client, listener, cancel
	e.contact = sip.Uri{
		Scheme: "sip",
		User:   e.aor.User,
		Host:   contactHost(local, e.registrar.Host),
		Port:   localPort(local),
	}
	e.mu.Unlock()

	slog.Info("[SIP] Listening", "transport", e.cfg.SIP.Transport, "addr", local, "contact", e.contact.String())
	return nil
}

// listen binds the configured transport. Secure and websocket transports
// are client-only: requests from the registrar arrive over the outbound
// connection.
func (e *Engine) listen(ctx context.Context, srv *sipgo.Server) (io.Closer, string, error) {
	network := strings.ToLower(e.cfg.SIP.Transport)
	switch network {
	case "udp":
		conn, err := net.ListenPacket("udp", e.cfg.SIP.BindAddr)
		if err != nil {
			return nil, "", fmt.Errorf("bind %s: %w", e.cfg.SIP.BindAddr, err)
		}
		go func() {
			if err := srv.ServeUDP(conn); err != nil && ctx.Err() == nil {
				slog.Warn("[SIP] UDP listener stopped", "error", err)
			}
		}()
		return conn, conn.LocalAddr().String(), nil
	case "tcp":
		ln, err := net.Listen("tcp", e.cfg.SIP.BindAddr)
		if err != nil {
			return nil, "", fmt.Errorf("bind %s: %w", e.cfg.SIP.BindAddr, err)
		}
		go func() {
			if err := srv.ServeTCP(ln); err != nil && ctx.Err() == nil {
				slog.Warn("[SIP] TCP listener stopped", "error", err)
			}
		}()
		return ln, ln.Addr().String(), nil
	default:
		return nil, e.cfg.SIP.BindAddr, nil
	}
}

func (e *Engine) probe(ctx context.Context) (*sip.Response, error) {
	client, err := e.currentClient()
	if err != nil {
		return nil, err
	}
	req := sip.NewRequest(sip.OPTIONS, e.registrar)
	req.AppendHeader(sip.NewHeader("User-Agent", e.cfg.SIP.UserAgent))
	req.SetTransport(strings.ToUpper(e.cfg.SIP.Transport))
	return client.Do(ctx, req)
}

// Stop ends pending offers, closes the transport and reports the
// disconnect. Stopping a stopped engine does nothing.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return nil
	}

	e.shutdown()
	slog.Info("[SIP] Stopped", "server", e.cfg.SIP.Server)
	e.publish(e.b.Disconnected(nil))
	return nil
}

// shutdown tears down the per-run state. Unanswered offers are refused.
func (e *Engine) shutdown() {
	e.mu.Lock()
	pending := e.pending
	ua, listener, cancel := e.ua, e.listener, e.cancel
	e.pending, e.ua, e.client, e.listener, e.cancel = nil, nil, nil, nil, nil
	e.running = false
	e.mu.Unlock()

	if pending != nil {
		// Offers that timed out since the last tick still end as unanswered.
		pending.Sweep()
		for _, id := range pending.Keys() {
			p, ok := pending.Take(id)
			if !ok {
				continue
			}
			_ = p.tx.Respond(p.response(480, "Temporarily Unavailable"))
			e.publish(e.b.SessionTerminated(id, session.CauseTransportLost, 0))
		}
		pending.Close()
	}
	if cancel != nil {
		cancel()
	}
	if listener != nil {
		_ = listener.Close()
	}
	if ua != nil {
		_ = ua.Close()
	}
}

func (e *Engine) currentClient() (*sipgo.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, ErrNotRunning
	}
	return e.client, nil
}

func (e *Engine) pendingStore() *store.TTLStore[string, *pendingInvite] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// contactHost picks the host for the Contact header. A wildcard bind is
// replaced by the address the system routes toward the registrar.
func contactHost(local, registrarHost string) string {
	host, _, err := net.SplitHostPort(local)
	if err != nil {
		host = local
	}
	if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
		return host
	}
	if host != "" && net.ParseIP(host) == nil {
		return host
	}
	conn, err := net.Dial("udp", net.JoinHostPort(registrarHost, "5060"))
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func localPort(local string) int {
	_, port, err := net.SplitHostPort(local)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func callID(req *sip.Request) string {
	if req.CallID() == nil {
		return ""
	}
	return string(*req.CallID())
}
