// Package api is the HTTP surface of the deployer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/webhooks/v6/github"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"godeploy/auth"
	"godeploy/logging"
	"godeploy/orchestrator"
	"godeploy/store"
)

const defaultListLimit = 20

type Options struct {
	// Authenticator guards /api; nil leaves it open.
	Authenticator *auth.Authenticator
	WebhookSecret string

	// Sites serves published projects on <domain_name>.<SiteDomain>. Both
	// must be set for the host route to be mounted.
	Sites      http.Handler
	SiteDomain string
}

type API struct {
	service *orchestrator.Service
	logs    http.Handler
	webhook *github.Webhook
	log     *logrus.Entry
}

// NewRouter wires every route. logs serves the websocket log stream.
func NewRouter(service *orchestrator.Service, logs http.Handler, opts Options) (*mux.Router, error) {
	hook, err := github.New(github.Options.Secret(opts.WebhookSecret))
	if err != nil {
		return nil, err
	}
	a := &API{
		service: service,
		logs:    logs,
		webhook: hook,
		log:     logging.C("api"),
	}
	if opts.WebhookSecret == "" {
		a.log.Warn("⚠️ WEBHOOK_SECRET is not set, GitHub push signatures are not verified")
	}

	r := mux.NewRouter()
	if opts.Sites != nil && opts.SiteDomain != "" {
		// Registered first so site hosts never reach the API routes.
		r.Host("{site:[a-z0-9-]+}." + opts.SiteDomain).Handler(opts.Sites)
	}
	r.Use(corsMiddleware)
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", logs).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/github", a.githubWebhook).Methods(http.MethodPost)

	apiRouter := r.PathPrefix("/api").Subrouter()
	if opts.Authenticator != nil {
		apiRouter.Use(opts.Authenticator.Middleware)
	}
	apiRouter.HandleFunc("/deployments", a.listDeployments).Methods(http.MethodGet)
	apiRouter.HandleFunc("/deployments/{deploymentId}", a.getDeployment).Methods(http.MethodGet)
	apiRouter.HandleFunc("/deployments/{deploymentId}/logs", a.getLogs).Methods(http.MethodGet)
	apiRouter.HandleFunc("/deployments/{deploymentId}/trigger", a.triggerDeployment).Methods(http.MethodPost)
	apiRouter.HandleFunc("/projects", a.listProjects).Methods(http.MethodGet)
	apiRouter.HandleFunc("/projects", a.createProject).Methods(http.MethodPost)
	apiRouter.HandleFunc("/projects/{projectId}", a.getProject).Methods(http.MethodGet)
	apiRouter.HandleFunc("/projects/{projectId}", a.deleteProject).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/projects/{projectId}/auto-deploy", a.setAutoDeploy).Methods(http.MethodPut)
	apiRouter.HandleFunc("/projects/{projectId}/deployments", a.createDeployment).Methods(http.MethodPost)
	apiRouter.HandleFunc("/projects/{projectId}/deployments", a.listDeployments).Methods(http.MethodGet)

	return r, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto status codes.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrDeploymentNotFound), errors.Is(err, store.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidDeploymentID), errors.Is(err, orchestrator.ErrInvalidProject):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrAlreadyQueued),
		errors.Is(err, orchestrator.ErrAlreadyBuilding),
		errors.Is(err, orchestrator.ErrDeploymentFailed),
		errors.Is(err, orchestrator.ErrRepositoryTaken),
		errors.Is(err, orchestrator.ErrDomainTaken),
		errors.Is(err, orchestrator.ErrProjectBusy):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		a.log.Errorf("❌ Request failed: %v", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	q := a.service.Queue()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"busy":    q.Busy(),
		"backlog": q.Len(),
	})
}

func listLimit(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultListLimit
}
