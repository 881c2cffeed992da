package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"godeploy/shared/model"
)

var (
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrProjectNotFound    = errors.New("project not found")
)

// DeploymentUpdate carries the fields the engine is allowed to change.
// Nil fields are left untouched.
type DeploymentUpdate struct {
	Status *model.Status
	Logs   *string
}

func StatusUpdate(s model.Status) DeploymentUpdate {
	return DeploymentUpdate{Status: &s}
}

func LogsUpdate(logs string) DeploymentUpdate {
	return DeploymentUpdate{Logs: &logs}
}

// Store is the persistent record store for projects and deployments.
type Store interface {
	FindDeployment(ctx context.Context, id string) (*model.Deployment, error)
	UpdateDeployment(ctx context.Context, id string, update DeploymentUpdate) error
	CreateDeployment(ctx context.Context, d *model.Deployment) error
	ListDeployments(ctx context.Context, projectID string, limit int) ([]*model.Deployment, error)
	FindProject(ctx context.Context, id string) (*model.Project, error)
	FindProjectByRepository(ctx context.Context, repositoryURL string) (*model.Project, error)
	FindProjectByDomain(ctx context.Context, domainName string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]*model.Project, error)
	SaveProject(ctx context.Context, p *model.Project) error
	// DeleteProject removes the project and every deployment of it.
	DeleteProject(ctx context.Context, id string) error
	Close() error
}

func apply(d *model.Deployment, update DeploymentUpdate, now time.Time) {
	if update.Status != nil {
		d.Status = *update.Status
	}
	if update.Logs != nil {
		d.Logs = *update.Logs
	}
	d.UpdatedAt = now
}

// RepositoryKey is the form both drivers match repository URLs by, so
// "https://github.com/Acme/Site.git" and "https://github.com/acme/site" are
// the same repository.
func RepositoryKey(repositoryURL string) string {
	key := strings.ToLower(strings.TrimSpace(repositoryURL))
	key = strings.TrimSuffix(key, "/")
	return strings.TrimSuffix(key, ".git")
}
