package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/webhooks/v6/github"
	"github.com/gorilla/mux"

	"godeploy/orchestrator"
	"godeploy/shared/model"
)

type triggerResponse struct {
	DeploymentID string       `json:"deploymentId"`
	ProjectID    string       `json:"projectId"`
	Status       model.Status `json:"status"`
	Backlog      int          `json:"backlog"`
}

type logsResponse struct {
	DeploymentID string   `json:"deploymentId"`
	Live         bool     `json:"live"`
	Lines        []string `json:"lines"`
}

type createDeploymentRequest struct {
	CommitHash    string `json:"commitHash"`
	CommitMessage string `json:"commitMessage"`
}

func (a *API) accepted(w http.ResponseWriter, d *model.Deployment) {
	writeJSON(w, http.StatusAccepted, triggerResponse{
		DeploymentID: d.ID,
		ProjectID:    d.ProjectID,
		Status:       d.Status,
		Backlog:      a.service.Queue().Len(),
	})
}

func (a *API) triggerDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := a.service.Submit(r.Context(), mux.Vars(r)["deploymentId"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.accepted(w, d)
}

func (a *API) createDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	d, err := a.service.Deploy(r.Context(), mux.Vars(r)["projectId"], orchestrator.Commit{
		Hash:    req.CommitHash,
		Message: req.CommitMessage,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.accepted(w, d)
}

func (a *API) getDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := a.service.Deployment(r.Context(), mux.Vars(r)["deploymentId"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) listDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := a.service.ListDeployments(r.Context(), mux.Vars(r)["projectId"], listLimit(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if deployments == nil {
		deployments = []*model.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (a *API) getLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["deploymentId"]
	if lines := a.service.GetBufferedLogLines(id); lines != nil {
		writeJSON(w, http.StatusOK, logsResponse{DeploymentID: id, Live: true, Lines: lines})
		return
	}
	lines, err := a.service.Logs(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{DeploymentID: id, Lines: lines})
}

func (a *API) githubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := a.webhook.Parse(r, github.PushEvent, github.PingEvent)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, github.ErrHMACVerificationFailed), errors.Is(err, github.ErrMissingHubSignatureHeader):
			status = http.StatusUnauthorized
		case errors.Is(err, github.ErrEventNotFound):
			// Events we did not ask for are acknowledged and ignored.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		a.log.Warnf("⚠️ Rejected webhook: %v", err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	switch event := payload.(type) {
	case github.PingPayload:
		w.WriteHeader(http.StatusNoContent)
	case github.PushPayload:
		if event.Deleted || !strings.HasPrefix(event.Ref, "refs/heads/") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		branch := strings.TrimPrefix(event.Ref, "refs/heads/")
		d, err := a.service.DeployPush(r.Context(), event.Repository.CloneURL, branch, orchestrator.Commit{
			Hash:    event.After,
			Message: event.HeadCommit.Message,
		})
		if errors.Is(err, orchestrator.ErrPushIgnored) {
			a.log.Debugf("Push ignored: %v", err)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.log.WithField("deployment_id", d.ID).Infof("🚀 Push to %s triggered a deployment", branch)
		a.accepted(w, d)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
