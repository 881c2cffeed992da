package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"godeploy/shared/model"
	"godeploy/store"
)

var (
	ErrInvalidProject  = errors.New("invalid project")
	ErrRepositoryTaken = errors.New("a project with this repository already exists")
	ErrDomainTaken     = errors.New("domain name already exists")
	ErrProjectBusy     = errors.New("project has a deployment in progress")
)

// NewProject is what a caller supplies to register a project.
type NewProject struct {
	Name          string `json:"name" validate:"required"`
	RepositoryURL string `json:"repositoryUrl" validate:"required,url"`
	Branch        string `json:"branch"`
	InstallCmd    string `json:"installCmd" validate:"required"`
	BuildCmd      string `json:"buildCmd" validate:"required"`
	OutputDir     string `json:"outputDir" validate:"omitempty,localpath"`
	DomainName    string `json:"domainName" validate:"required,min=3,max=63,subdomain"`
	AutoDeploy    bool   `json:"autoDeploy"`
}

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
		return subdomainPattern.MatchString(fl.Field().String())
	})
	// output directories are resolved inside the checkout
	_ = v.RegisterValidation("localpath", func(fl validator.FieldLevel) bool {
		return filepath.IsLocal(fl.Field().String())
	})
	return v
}

// CreateProject registers a project and queues its first deployment.
// Repository and domain name must not belong to another project.
func (s *Service) CreateProject(ctx context.Context, req NewProject) (*model.Project, *model.Deployment, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.RepositoryURL = strings.TrimSpace(req.RepositoryURL)
	req.DomainName = strings.TrimSpace(req.DomainName)
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}

	s.projectsMu.Lock()
	if _, err := s.store.FindProjectByDomain(ctx, req.DomainName); err == nil {
		s.projectsMu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrDomainTaken, req.DomainName)
	} else if !errors.Is(err, store.ErrProjectNotFound) {
		s.projectsMu.Unlock()
		return nil, nil, err
	}
	if _, err := s.store.FindProjectByRepository(ctx, req.RepositoryURL); err == nil {
		s.projectsMu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrRepositoryTaken, req.RepositoryURL)
	} else if !errors.Is(err, store.ErrProjectNotFound) {
		s.projectsMu.Unlock()
		return nil, nil, err
	}

	now := time.Now().UTC()
	p := &model.Project{
		ID:            uuid.New().String(),
		Name:          req.Name,
		RepositoryURL: req.RepositoryURL,
		Branch:        req.Branch,
		InstallCmd:    req.InstallCmd,
		BuildCmd:      req.BuildCmd,
		OutputDir:     req.OutputDir,
		DomainName:    req.DomainName,
		AutoDeploy:    req.AutoDeploy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.store.SaveProject(ctx, p)
	s.projectsMu.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("saving project: %w", err)
	}
	s.log.WithField("project_id", p.ID).Infof("📦 Project %s registered for %s", p.Name, p.DomainName)

	d, err := s.Deploy(ctx, p.ID, Commit{})
	if err != nil {
		return p, nil, err
	}
	return p, d, nil
}

func (s *Service) Projects(ctx context.Context) ([]*model.Project, error) {
	return s.store.ListProjects(ctx)
}

// Project returns a project with its newest deployments.
func (s *Service) Project(ctx context.Context, projectID string, limit int) (*model.Project, []*model.Deployment, error) {
	p, err := s.store.FindProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	deployments, err := s.store.ListDeployments(ctx, projectID, limit)
	if err != nil {
		return nil, nil, err
	}
	return p, deployments, nil
}

// DeleteProject removes a project and its deployment history. A project with
// a queued or running deployment is kept.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.store.FindProject(ctx, projectID); err != nil {
		return err
	}
	deployments, err := s.store.ListDeployments(ctx, projectID, 0)
	if err != nil {
		return err
	}

	// Holding mu keeps Submit from queueing one of these in between.
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deployments {
		_, pending := s.pending[d.ID]
		if pending || d.Status == model.StatusBuilding {
			return fmt.Errorf("%w: %s", ErrProjectBusy, d.ID)
		}
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.log.WithField("project_id", projectID).Infof("🗑️ Project %s deleted", projectID)
	return nil
}

func (s *Service) SetAutoDeploy(ctx context.Context, projectID string, enabled bool) (*model.Project, error) {
	s.projectsMu.Lock()
	defer s.projectsMu.Unlock()
	p, err := s.store.FindProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	p.AutoDeploy = enabled
	if err := s.store.SaveProject(ctx, p); err != nil {
		return nil, fmt.Errorf("saving project: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"project_id":  p.ID,
		"auto_deploy": enabled,
	}).Info("🔁 Auto deploy updated")
	return p, nil
}
