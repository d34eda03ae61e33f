package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackPath is the path the redirect URI must point at.
const CallbackPath = "/oauth-callback"

// DefaultCallbackTimeout bounds how long the listener waits for the
// browser redirect before releasing the port.
const DefaultCallbackTimeout = 5 * time.Minute

const confirmationHTML = `<!DOCTYPE html>
<html>
<head><title>Authentication Complete</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>Authentication complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`

// CallbackResult is the outcome of one OAuth redirect.
type CallbackResult struct {
	Code  string
	State string
}

// CallbackListener accepts exactly one OAuth redirect on a local port.
// It resolves once, with either the authorization code or a classified
// error, and releases the port on every exit path.
type CallbackListener struct {
	server        *http.Server
	listener      net.Listener
	port          int
	expectedState string

	mu       sync.Mutex
	resolved bool
	result   chan *CallbackResult
	errCh    chan error
}

// NewCallbackListener creates a listener for the given local port. The
// expected state is checked against every incoming callback; a mismatch
// resolves the attempt with ErrStateMismatch and never with a code.
func NewCallbackListener(port int, expectedState string) *CallbackListener {
	return &CallbackListener{
		port:          port,
		expectedState: expectedState,
		result:        make(chan *CallbackResult, 1),
		errCh:         make(chan error, 1),
	}
}

// Start binds the local port and begins serving. Binding is restricted to
// the loopback interface so the listener is never reachable from outside
// the host. Returns ErrPortInUse when the port cannot be bound.
func (l *CallbackListener) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", l.port))
	if err != nil {
		return WrapAuthError(ErrPortInUse, err)
	}
	l.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, l.handleCallback)

	l.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if errServe := l.server.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			l.errCh <- fmt.Errorf("callback server failed: %w", errServe)
		}
	}()

	log.Debugf("OAuth callback listener started on 127.0.0.1:%d", l.Port())
	return nil
}

// Port returns the bound port. Useful when the listener was started with
// port 0 and the OS picked one.
func (l *CallbackListener) Port() int {
	if l.listener != nil {
		if addr, ok := l.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return l.port
}

// AwaitCallback blocks until the redirect arrives or the timeout elapses.
// The port is released before this function returns, on every path.
func (l *CallbackListener) AwaitCallback(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	defer l.shutdown()

	select {
	case result := <-l.result:
		return result, nil
	case err := <-l.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, ErrCallbackTimeout
	}
}

func (l *CallbackListener) shutdown() {
	if l.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.server.Shutdown(shutdownCtx); err != nil {
		log.Debugf("callback server shutdown: %v", err)
	}
	l.server = nil
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	l.mu.Lock()
	if l.resolved {
		l.mu.Unlock()
		// The attempt already resolved; late redirects get an error page
		// but cannot change the outcome.
		http.Error(w, "Authentication already completed", http.StatusConflict)
		return
	}
	l.resolved = true
	l.mu.Unlock()

	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		l.errCh <- &AuthError{
			Type:    "authorization_denied",
			Message: fmt.Sprintf("provider returned error: %s", errParam),
			Code:    http.StatusBadRequest,
		}
		http.Error(w, fmt.Sprintf("Authentication failed: %s", errParam), http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		l.errCh <- ErrMalformedInput
		http.Error(w, "No authorization code received", http.StatusBadRequest)
		return
	}

	state := query.Get("state")
	if state != l.expectedState {
		log.Warn("OAuth callback state mismatch, rejecting")
		l.errCh <- ErrStateMismatch
		http.Error(w, "State verification failed", http.StatusBadRequest)
		return
	}

	l.result <- &CallbackResult{Code: code, State: state}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(confirmationHTML)); err != nil {
		log.Debugf("failed to write confirmation page: %v", err)
	}
}
