package httpserver

import "net/http"

// Routes groups handlers. Nil entries are not registered.
type Routes struct {
	Status       http.HandlerFunc
	SetUID       http.HandlerFunc
	Start        http.HandlerFunc
	Stop         http.HandlerFunc
	Topup        http.HandlerFunc
	Login        http.HandlerFunc
	History      http.HandlerFunc
	StatusStream http.HandlerFunc
	Health       http.HandlerFunc
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Status != nil {
		mux.Handle("/status", method(http.MethodGet, routes.Status))
	}
	if routes.SetUID != nil {
		mux.Handle("/setuid", method(http.MethodPost, routes.SetUID))
	}
	if routes.Start != nil {
		mux.Handle("/start", method(http.MethodPost, routes.Start))
	}
	if routes.Stop != nil {
		mux.Handle("/stop", method(http.MethodPost, routes.Stop))
	}
	if routes.Topup != nil {
		mux.Handle("/topup", method(http.MethodPost, routes.Topup))
	}
	if routes.Login != nil {
		mux.Handle("/login", method(http.MethodPost, routes.Login))
	}
	if routes.History != nil {
		mux.Handle("/history", method(http.MethodGet, routes.History))
	}
	if routes.StatusStream != nil {
		mux.Handle("/ws/status", method(http.MethodGet, routes.StatusStream))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
