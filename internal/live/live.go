// Package live streams widget state to the browser over a websocket. Each
// subscription owns a fetch loader; closing the socket tears all of them
// down.
package live

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/dashboard"
	"github.com/riskwise/console/internal/fetch"
	"github.com/riskwise/console/internal/platform/telemetry"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
)

// idleTimeout closes a connection that sends nothing for this long.
const idleTimeout = 10 * time.Minute

const (
	writeTimeout = 10 * time.Second
	readLimit    = 64 << 10
)

// Watcher delivers session events for a browser context.
type Watcher interface {
	Watch(contextID string) (<-chan session.Event, func())
}

type clientMessage struct {
	Type   string           `json:"type"`
	Widget string           `json:"widget"`
	Params dashboard.Params `json:"params,omitempty"`
}

type serverMessage struct {
	Type     string            `json:"type"`
	Widget   string            `json:"widget,omitempty"`
	State    *fetch.State[any] `json:"state,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Message  string            `json:"message,omitempty"`
	Location string            `json:"location,omitempty"`
}

// Handler upgrades GET /live.
type Handler struct {
	widgets        *dashboard.Catalogue
	sessions       Watcher
	allowedOrigins []string
}

func NewHandler(widgets *dashboard.Catalogue, sessions Watcher, allowedOrigins []string) *Handler {
	return &Handler{widgets: widgets, sessions: sessions, allowedOrigins: allowedOrigins}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /live", h.HandleLive)
}

// HandleLive requires an authenticated, hydrated context before upgrading.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if ac == nil || !ac.IsAuthenticated() {
		auth.RedirectToLogin(w, r)
		return
	}

	acceptOpts := &websocket.AcceptOptions{}
	if len(h.allowedOrigins) > 0 {
		acceptOpts.OriginPatterns = h.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		telemetry.FromContext(r.Context()).Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(readLimit)

	// Long-lived connection: lift the server's write deadline.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	c := &connection{
		ws:     conn,
		ac:     ac,
		widget: h.widgets,
		subs:   make(map[string]*subscription),
		out:    newOutbox(),
		ended:  make(chan struct{}, 1),
	}
	events, stop := h.sessions.Watch(ac.ID())
	defer stop()
	c.run(r.Context(), events)
}

type subscription struct {
	loader *fetch.Loader[any]
}

type connection struct {
	ws     *websocket.Conn
	ac     *auth.Context
	widget *dashboard.Catalogue
	subs   map[string]*subscription
	out    *outbox
	ended  chan struct{}
}

func (c *connection) run(parent context.Context, events <-chan session.Event) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.closeAll()

	in := make(chan clientMessage)
	go c.readLoop(ctx, in, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if ok && evt.Kind != session.EventEnded {
				continue
			}
			c.redirect(ctx)
			return
		case <-c.ended:
			c.redirect(ctx)
			return
		case msg := <-in:
			c.handle(ctx, msg)
		case <-c.out.notify:
			for _, msg := range c.out.take() {
				if _, ok := c.subs[msg.Widget]; !ok {
					continue
				}
				if err := c.write(ctx, msg); err != nil {
					return
				}
			}
		}
	}
}

func (c *connection) readLoop(ctx context.Context, in chan<- clientMessage, cancel context.CancelFunc) {
	defer cancel()
	for {
		readCtx, readCancel := context.WithTimeout(ctx, idleTimeout)
		var msg clientMessage
		err := wsjson.Read(readCtx, c.ws, &msg)
		readCancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				_ = c.ws.Close(websocket.StatusNormalClosure, "idle")
			}
			return
		}
		select {
		case in <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subscribe(ctx, msg)
	case "unsubscribe":
		if sub, ok := c.subs[msg.Widget]; ok {
			sub.loader.Close()
			delete(c.subs, msg.Widget)
			c.out.drop(msg.Widget)
		}
	case "refresh":
		if sub, ok := c.subs[msg.Widget]; ok {
			sub.loader.Refetch()
		}
	default:
		_ = c.write(ctx, serverMessage{Type: "error", Message: "unknown message type"})
	}
}

func (c *connection) subscribe(ctx context.Context, msg clientMessage) {
	widget, ok := c.widget.Lookup(msg.Widget)
	if !ok {
		_ = c.write(ctx, serverMessage{Type: "error", Widget: msg.Widget, Message: "unknown widget"})
		return
	}

	snap := c.ac.Snapshot()
	d := rbac.Evaluate(snap.IsAuthenticated, snap.User, widget.Requirement)
	switch d.Outcome {
	case rbac.Redirect:
		c.signalEnded()
		return
	case rbac.Deny:
		_ = c.write(ctx, serverMessage{Type: "denied", Widget: widget.Name, Reason: d.Reason})
		return
	}

	params := widget.Normalize(msg.Params)
	produce := func(ctx context.Context) (any, error) { return widget.Fetch(ctx, params) }

	if sub, ok := c.subs[widget.Name]; ok {
		sub.loader.Load(produce, params)
		return
	}

	name := widget.Name
	opts := []fetch.Option[any]{
		fetch.WithErrorText[any](dashboard.ErrorMessage),
		fetch.OnChange(func(st fetch.State[any]) {
			if backend.IsUnauthenticated(st.Cause) {
				c.signalEnded()
				return
			}
			c.out.put(name, st)
		}),
	}
	if widget.Fallback != nil {
		opts = append(opts, fetch.WithFallback(widget.Fallback))
	}
	loader := fetch.New(ctx, opts...)
	c.subs[name] = &subscription{loader: loader}
	loader.Load(produce, params)
	if widget.Poll > 0 {
		loader.Poll(widget.Poll)
	}
}

func (c *connection) signalEnded() {
	select {
	case c.ended <- struct{}{}:
	default:
	}
}

func (c *connection) redirect(ctx context.Context) {
	_ = c.write(ctx, serverMessage{Type: "redirect", Location: auth.LoginPath})
	_ = c.ws.Close(websocket.StatusPolicyViolation, "session ended")
}

func (c *connection) write(ctx context.Context, msg serverMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, msg)
}

func (c *connection) closeAll() {
	for name, sub := range c.subs {
		sub.loader.Close()
		sub.loader.Wait()
		delete(c.subs, name)
	}
}

// outbox holds the latest undelivered state per widget. Loaders publish into
// it without blocking; the connection goroutine drains it.
type outbox struct {
	mu     sync.Mutex
	states map[string]fetch.State[any]
	order  []string
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		states: make(map[string]fetch.State[any]),
		notify: make(chan struct{}, 1),
	}
}

func (o *outbox) put(widget string, st fetch.State[any]) {
	o.mu.Lock()
	if _, ok := o.states[widget]; !ok {
		o.order = append(o.order, widget)
	}
	o.states[widget] = st
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) drop(widget string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.states, widget)
	o.order = slices.DeleteFunc(o.order, func(name string) bool { return name == widget })
}

func (o *outbox) take() []serverMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := make([]serverMessage, 0, len(o.states))
	for _, name := range o.order {
		st, ok := o.states[name]
		if !ok {
			continue
		}
		msgs = append(msgs, serverMessage{Type: "state", Widget: name, State: &st})
	}
	clear(o.states)
	o.order = o.order[:0]
	return msgs
}
