package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// Exchanger trades an authorization code for a token. [services.AniListService] implements it and persists the result.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center;
       height: 100vh; margin: 0; background: #1f2430; color: #d8dee9; }
main { text-align: center; }
h1 { color: {{.Color}}; }
</style>
</head>
<body><main><h1>{{.Title}}</h1><p>{{.Message}}</p></main></body>
</html>
`))

// OAuthHandler handles the tracker's authorization code callback.
//
// Only the first callback is processed; later hits are rejected.
type OAuthHandler struct {
	exchanger Exchanger
	state     string
	results   chan OAuthResult
	once      sync.Once

	mu  sync.Mutex
	hit bool
}

// NewOAuthHandler creates a callback handler expecting state, which should be random per login attempt.
func NewOAuthHandler(exchanger Exchanger, state string) *OAuthHandler {
	return &OAuthHandler{
		exchanger: exchanger,
		state:     state,
		results:   make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /callback"}
}

// ServeHTTP validates the state, exchanges the code and publishes the outcome on [OAuthHandler.Result].
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.hit = true
	h.mu.Unlock()

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.Send(OAuthResult{err: fmt.Errorf("invalid state parameter")})
		renderCallback(w, http.StatusBadRequest, "Login failed", "The state parameter did not match.")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.Send(OAuthResult{err: fmt.Errorf("authorization failed: %s - %s", q.Get("error"), q.Get("error_description"))})
		renderCallback(w, http.StatusBadRequest, "Login failed", "Authorization was denied.")
		return
	}

	token, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("token exchange failed: %w", err)})
		renderCallback(w, http.StatusInternalServerError, "Login failed", "The token exchange failed.")
		return
	}

	h.Send(OAuthResult{Token: token})
	renderCallback(w, http.StatusOK, "Logged in", "You can close this window and return to the terminal.")
}

func renderCallback(w http.ResponseWriter, status int, title, message string) {
	color := "#a3be8c"
	if status != http.StatusOK {
		color = "#bf616a"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	callbackPage.Execute(w, map[string]string{"Title": title, "Message": message, "Color": color})
}

// Send publishes result once; later calls are ignored.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result receives exactly one result and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}
