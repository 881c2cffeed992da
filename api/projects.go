package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"godeploy/orchestrator"
	"godeploy/shared/model"
)

type createProjectResponse struct {
	Project    *model.Project    `json:"project"`
	Deployment *model.Deployment `json:"deployment"`
}

type projectResponse struct {
	Project     *model.Project      `json:"project"`
	Deployments []*model.Deployment `json:"deployments"`
}

type autoDeployRequest struct {
	AutoDeploy *bool `json:"autoDeploy"`
}

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.service.Projects(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if projects == nil {
		projects = []*model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.NewProject
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	p, d, err := a.service.CreateProject(r.Context(), req)
	if err != nil && p == nil {
		a.writeError(w, err)
		return
	}
	if err != nil {
		// The project exists even though its first deployment did not queue.
		a.log.WithField("project_id", p.ID).Warnf("⚠️ First deployment not queued: %v", err)
	}
	writeJSON(w, http.StatusCreated, createProjectResponse{Project: p, Deployment: d})
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	p, deployments, err := a.service.Project(r.Context(), mux.Vars(r)["projectId"], listLimit(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if deployments == nil {
		deployments = []*model.Deployment{}
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: p, Deployments: deployments})
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProject(r.Context(), mux.Vars(r)["projectId"]); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setAutoDeploy(w http.ResponseWriter, r *http.Request) {
	var req autoDeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AutoDeploy == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "autoDeploy is required"})
		return
	}
	p, err := a.service.SetAutoDeploy(r.Context(), mux.Vars(r)["projectId"], *req.AutoDeploy)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
