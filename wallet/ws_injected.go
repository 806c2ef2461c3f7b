package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// json-rpc error code for a request the user declined
const codeUserRejected = 4001

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcMessage is either a response (ID set) or an event pushed by the page.
type rpcMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// InjectedError is an error reported by the extension.
type InjectedError struct {
	Code    int
	Message string
}

func (e *InjectedError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

func mapRPCError(e *rpcError) error {
	if e.Code == codeUserRejected || strings.Contains(strings.ToLower(e.Message), "rejected") {
		return fmt.Errorf("%w: %s", ErrUserRejected, e.Message)
	}
	return &InjectedError{Code: e.Code, Message: e.Message}
}

// WSInjected talks json-rpc 2.0 over a websocket to a companion page,
// which forwards every call to the extension's injected object.
type WSInjected struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan rpcMessage
	handlers map[string][]EventCallback
	err      error

	done chan struct{}
}

var _ Injected = (*WSInjected)(nil)

func NewWSInjected(conn *websocket.Conn) *WSInjected {
	w := &WSInjected{
		conn:     conn,
		pending:  make(map[uint64]chan rpcMessage),
		handlers: make(map[string][]EventCallback),
		done:     make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// DialWSInjected connects to a page that serves the bridge itself.
func DialWSInjected(ctx context.Context, url string) (*WSInjected, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWSInjected(conn), nil
}

func (w *WSInjected) Close() error {
	return w.conn.Close()
}

// Done is closed once the connection is gone.
func (w *WSInjected) Done() <-chan struct{} {
	return w.done
}

func (w *WSInjected) readLoop() {
	defer close(w.done)
	for {
		var msg rpcMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			w.fail(err)
			return
		}

		if msg.ID != nil {
			w.mu.Lock()
			ch, ok := w.pending[*msg.ID]
			delete(w.pending, *msg.ID)
			w.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		if msg.Method != "" {
			w.mu.Lock()
			cbs := append([]EventCallback(nil), w.handlers[msg.Method]...)
			w.mu.Unlock()
			for _, cb := range cbs {
				cb(msg.Params)
			}
		}
	}
}

func (w *WSInjected) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
	logger.WithField("err", err).Debug("wallet bridge connection closed")
}

func (w *WSInjected) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	w.mu.Lock()
	if w.err != nil {
		err := w.err
		w.mu.Unlock()
		return err
	}
	w.nextID++
	id := w.nextID
	ch := make(chan rpcMessage, 1)
	w.pending[id] = ch
	w.mu.Unlock()

	if params == nil {
		params = []interface{}{}
	}
	w.writeMu.Lock()
	err := w.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	w.writeMu.Unlock()
	if err != nil {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.err
		}
		if msg.Error != nil {
			return mapRPCError(msg.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("unexpected %s reply: %w", method, err)
		}
		return nil
	}
}

func (w *WSInjected) callString(ctx context.Context, method string, params ...interface{}) (string, error) {
	var s string
	err := w.call(ctx, &s, method, params...)
	return s, err
}

func (w *WSInjected) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := w.call(ctx, &accounts, "requestAccounts")
	return accounts, err
}

func (w *WSInjected) GetAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := w.call(ctx, &accounts, "getAccounts")
	return accounts, err
}

func (w *WSInjected) GetPublicKey(ctx context.Context) (string, error) {
	return w.callString(ctx, "getPublicKey")
}

func (w *WSInjected) GetNetwork(ctx context.Context) (string, error) {
	return w.callString(ctx, "getNetwork")
}

func (w *WSInjected) SwitchNetwork(ctx context.Context, network string) (string, error) {
	return w.callString(ctx, "switchNetwork", network)
}

func (w *WSInjected) GetVersion(ctx context.Context) (string, error) {
	return w.callString(ctx, "getVersion")
}

func (w *WSInjected) SignPsbt(ctx context.Context, psbtHex string, opts *SignOptions) (string, error) {
	if opts == nil {
		return w.callString(ctx, "signPsbt", psbtHex)
	}
	return w.callString(ctx, "signPsbt", psbtHex, opts)
}

func (w *WSInjected) SignPsbts(ctx context.Context, psbtHexes []string, opts []*SignOptions) ([]string, error) {
	var out []string
	var err error
	if opts == nil {
		err = w.call(ctx, &out, "signPsbts", psbtHexes)
	} else {
		err = w.call(ctx, &out, "signPsbts", psbtHexes, opts)
	}
	return out, err
}

func (w *WSInjected) SignMessage(ctx context.Context, msg string, kind string) (string, error) {
	return w.callString(ctx, "signMessage", msg, kind)
}

func (w *WSInjected) GetBalance(ctx context.Context) (*InjectedBalance, error) {
	var b InjectedBalance
	if err := w.call(ctx, &b, "getBalance"); err != nil {
		return nil, err
	}
	return &b, nil
}

func (w *WSInjected) PushPsbt(ctx context.Context, psbtHex string) (string, error) {
	return w.callString(ctx, "pushPsbt", psbtHex)
}

func (w *WSInjected) PushTx(ctx context.Context, rawTx string) (string, error) {
	return w.callString(ctx, "pushTx", map[string]string{"rawtx": rawTx})
}

func (w *WSInjected) On(event string, cb EventCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[event] = append(w.handlers[event], cb)
}

// WSBridge accepts the companion page's websocket. The latest page to
// connect wins.
type WSBridge struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	current *WSInjected
	ready   chan struct{}
}

func NewWSBridge(allowedOrigins ...string) *WSBridge {
	b := &WSBridge{ready: make(chan struct{})}
	b.upgrader.CheckOrigin = func(r *http.Request) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowedOrigins {
			if o == origin {
				return true
			}
		}
		return false
	}
	return b
}

func (b *WSBridge) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		logger.WithField("err", err).Warn("wallet bridge upgrade failed")
		return
	}
	injected := NewWSInjected(conn)

	b.mu.Lock()
	if b.current != nil {
		_ = b.current.Close()
	}
	b.current = injected
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
	b.mu.Unlock()

	logger.WithField("remote", r.RemoteAddr).Info("wallet page connected")
}

// Wait blocks until a page is connected.
func (b *WSBridge) Wait(ctx context.Context) (*WSInjected, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ready:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}
