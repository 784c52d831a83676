package api

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"

	"shelfr/handlers"

	"github.com/gorilla/mux"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// pinAuthMiddleware guards mutating requests with the server PIN. Reads and
// preflights pass through so browsing the collection never needs the PIN.
func pinAuthMiddleware(pin string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pin == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Api-Pin")
			if provided == "" {
				provided = r.URL.Query().Get("pin")
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(pin)) != 1 {
				http.Error(w, "invalid or missing PIN", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		for i := len(host) - 1; i >= 0; i-- {
			if host[i] == ':' {
				host = host[:i]
				break
			}
		}
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	entriesHandler *handlers.EntriesHandler,
	importsHandler *handlers.ImportsHandler,
	progressHandler *handlers.ProgressHandler,
	usersHandler *handlers.UsersHandler,
	settingsHandler *handlers.SettingsHandler,
	tasksHandler *handlers.ScheduledTasksHandler,
	serverPIN string,
) {
	api := r.PathPrefix("/api").Subrouter()

	api.Use(corsMiddleware)
	api.Use(pinAuthMiddleware(serverPIN))

	// Catalog entries
	api.HandleFunc("/entries", entriesHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/entries", entriesHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/entries", entriesHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/entries/{entryID}", entriesHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/entries/{entryID}", entriesHandler.Edit).Methods(http.MethodPatch)
	api.HandleFunc("/entries/{entryID}", entriesHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/entries/{entryID}", entriesHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/entries/{entryID}/modified-fields/clear", entriesHandler.ClearModified).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entryID}/modified-fields/clear", entriesHandler.Options).Methods(http.MethodOptions)

	// Import reconciliation
	api.HandleFunc("/imports/reconcile", importsHandler.Reconcile).Methods(http.MethodPost)
	api.HandleFunc("/imports/reconcile", importsHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/imports/sheet", importsHandler.Sheet).Methods(http.MethodPost)
	api.HandleFunc("/imports/sheet", importsHandler.Options).Methods(http.MethodOptions)

	// Batch imports
	api.HandleFunc("/imports/batch", importsHandler.StartBatch).Methods(http.MethodPost)
	api.HandleFunc("/imports/batch", importsHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/imports/batch/{runID}", importsHandler.BatchStatus).Methods(http.MethodGet)
	api.HandleFunc("/imports/batch/{runID}", importsHandler.CancelBatch).Methods(http.MethodDelete)
	api.HandleFunc("/imports/batch/{runID}", importsHandler.Options).Methods(http.MethodOptions)

	// User profiles
	api.HandleFunc("/users", usersHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/users", usersHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/users", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}", usersHandler.Rename).Methods(http.MethodPatch)
	api.HandleFunc("/users/{userID}", usersHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/users/{userID}", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/color", usersHandler.SetColor).Methods(http.MethodPut)
	api.HandleFunc("/users/{userID}/color", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/pin", usersHandler.SetPin).Methods(http.MethodPut)
	api.HandleFunc("/users/{userID}/pin", usersHandler.ClearPin).Methods(http.MethodDelete)
	api.HandleFunc("/users/{userID}/pin", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/pin/verify", usersHandler.VerifyPin).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/pin/verify", usersHandler.Options).Methods(http.MethodOptions)

	// Per-user progress
	api.HandleFunc("/users/{userID}/progress", progressHandler.ListStates).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/progress", progressHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/progress/{entryID}", progressHandler.GetState).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/progress/{entryID}", progressHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/progress/{entryID}/toggle", progressHandler.ToggleUnit).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/progress/{entryID}/toggle", progressHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/progress/{entryID}/complete", progressHandler.MarkAllComplete).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/progress/{entryID}/complete", progressHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/progress/{entryID}/status", progressHandler.SetStatus).Methods(http.MethodPut)
	api.HandleFunc("/users/{userID}/progress/{entryID}/status", progressHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/progress/{entryID}/favorite", progressHandler.SetFavorite).Methods(http.MethodPut)
	api.HandleFunc("/users/{userID}/progress/{entryID}/favorite", progressHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/progress/{entryID}/tags", progressHandler.SetTags).Methods(http.MethodPut)
	api.HandleFunc("/users/{userID}/progress/{entryID}/tags", progressHandler.Options).Methods(http.MethodOptions)

	// Settings
	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings", settingsHandler.Options).Methods(http.MethodOptions)

	// Scheduled tasks
	api.HandleFunc("/scheduled-tasks", tasksHandler.ListTasks).Methods(http.MethodGet)
	api.HandleFunc("/scheduled-tasks", tasksHandler.CreateTask).Methods(http.MethodPost)
	api.HandleFunc("/scheduled-tasks", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/scheduled-tasks/{taskID}", tasksHandler.UpdateTask).Methods(http.MethodPut)
	api.HandleFunc("/scheduled-tasks/{taskID}", tasksHandler.DeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/scheduled-tasks/{taskID}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/scheduled-tasks/{taskID}/run", tasksHandler.RunTaskNow).Methods(http.MethodPost)
	api.HandleFunc("/scheduled-tasks/{taskID}/run", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/scheduled-tasks/{taskID}/toggle", tasksHandler.ToggleTask).Methods(http.MethodPost)
	api.HandleFunc("/scheduled-tasks/{taskID}/toggle", handleOptions).Methods(http.MethodOptions)

	// Pprof debug endpoints for profiling (localhost only, no auth required)
	pprofRouter := api.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
}
