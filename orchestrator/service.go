// Package orchestrator accepts deployment requests and feeds them to a single
// build worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"godeploy/logging"
	"godeploy/notification"
	"godeploy/shared/model"
	"godeploy/store"
)

var (
	ErrInvalidDeploymentID = errors.New("invalid deployment id")
	ErrAlreadyQueued       = errors.New("deployment is already queued")
	ErrAlreadyBuilding     = errors.New("deployment is already building")
	ErrDeploymentFailed    = errors.New("deployment already failed, create a new deployment to retry")
	ErrPushIgnored         = errors.New("push does not trigger a deployment")
)

// Commit identifies the revision a deployment was created for.
type Commit struct {
	Hash    string
	Message string
}

// Service is the entry point for everything that wants a build to happen or
// wants to watch one.
type Service struct {
	store store.Store
	hub   *notification.Hub
	queue *Queue
	log   *logrus.Entry

	validate *validator.Validate

	// projectsMu serializes the uniqueness checks of project writes.
	projectsMu sync.Mutex

	// pending holds deployments between Submit and the end of their execution.
	mu      sync.Mutex
	pending map[string]struct{}
}

func NewService(s store.Store, hub *notification.Hub, executor JobExecutor) *Service {
	svc := &Service{
		store:    s,
		hub:      hub,
		log:      logging.C("orchestrator"),
		validate: newValidator(),
		pending:  make(map[string]struct{}),
	}
	svc.queue = NewQueue(ExecutorFunc(func(ctx context.Context, job model.Job) error {
		defer svc.release(job.DeploymentID)
		return executor.Execute(ctx, job)
	}))
	return svc
}

func (s *Service) release(deploymentID string) {
	s.mu.Lock()
	delete(s.pending, deploymentID)
	s.mu.Unlock()
}

// Submit queues a build of an existing deployment. A deployment can be in the
// queue at most once; building and failed deployments are rejected. Ready
// deployments are accepted and produce an "already built" notice.
func (s *Service) Submit(ctx context.Context, deploymentID string) (*model.Deployment, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return nil, ErrInvalidDeploymentID
	}
	d, err := s.store.FindDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case model.StatusBuilding:
		return d, fmt.Errorf("%w: %s", ErrAlreadyBuilding, deploymentID)
	case model.StatusError:
		return d, fmt.Errorf("%w: %s", ErrDeploymentFailed, deploymentID)
	}

	s.mu.Lock()
	if _, ok := s.pending[deploymentID]; ok {
		s.mu.Unlock()
		return d, fmt.Errorf("%w: %s", ErrAlreadyQueued, deploymentID)
	}
	s.pending[deploymentID] = struct{}{}
	s.mu.Unlock()

	s.queue.Submit(model.Job{DeploymentID: d.ID, ProjectID: d.ProjectID})
	s.log.WithFields(logrus.Fields{
		"deployment_id": d.ID,
		"project_id":    d.ProjectID,
	}).Infof("✅ Deployment %s queued (%d waiting)", d.ID, s.queue.Len())
	return d, nil
}

// CreateDeployment records a new Queued deployment of projectID without
// starting it.
func (s *Service) CreateDeployment(ctx context.Context, projectID string, commit Commit) (*model.Deployment, error) {
	project, err := s.store.FindProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	d := &model.Deployment{
		ID:            uuid.New().String(),
		ProjectID:     project.ID,
		Status:        model.StatusQueued,
		CommitHash:    commit.Hash,
		CommitMessage: commit.Message,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("creating deployment: %w", err)
	}
	return d, nil
}

// Deploy creates a fresh deployment of projectID and queues it.
func (s *Service) Deploy(ctx context.Context, projectID string, commit Commit) (*model.Deployment, error) {
	d, err := s.CreateDeployment(ctx, projectID, commit)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, d.ID)
}

// DeployPush deploys the project tracking repositoryURL when a push lands on
// its branch and the project has auto deploy enabled.
func (s *Service) DeployPush(ctx context.Context, repositoryURL, branch string, commit Commit) (*model.Deployment, error) {
	project, err := s.store.FindProjectByRepository(ctx, repositoryURL)
	if err != nil {
		return nil, err
	}
	if !project.AutoDeploy {
		return nil, fmt.Errorf("%w: auto deploy is off for %s", ErrPushIgnored, project.ID)
	}
	if project.Branch != "" && project.Branch != branch {
		return nil, fmt.Errorf("%w: %s tracks %s, push was to %s", ErrPushIgnored, project.ID, project.Branch, branch)
	}
	return s.Deploy(ctx, project.ID, commit)
}

func (s *Service) Deployment(ctx context.Context, deploymentID string) (*model.Deployment, error) {
	return s.store.FindDeployment(ctx, deploymentID)
}

// ListDeployments returns the newest deployments first. An empty projectID
// lists across projects.
func (s *Service) ListDeployments(ctx context.Context, projectID string, limit int) ([]*model.Deployment, error) {
	return s.store.ListDeployments(ctx, projectID, limit)
}

// Subscribe attaches onLine to the live output of a running deployment.
// History is replayed first.
func (s *Service) Subscribe(deploymentID string, onLine func(line string)) (*notification.Subscription, error) {
	return s.hub.Subscribe(deploymentID, onLine)
}

func (s *Service) GetBufferedLogLines(deploymentID string) []string {
	return s.hub.GetBufferedLogLines(deploymentID)
}

// Logs returns the live buffer while a build runs and the persisted
// transcript otherwise.
func (s *Service) Logs(ctx context.Context, deploymentID string) ([]string, error) {
	if s.hub.Open(deploymentID) {
		// nil means the channel closed in between; the store has it by now.
		if lines := s.hub.GetBufferedLogLines(deploymentID); lines != nil {
			return lines, nil
		}
	}
	d, err := s.store.FindDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	return d.LogLines(), nil
}

func (s *Service) Queue() *Queue {
	return s.queue
}

// Wait blocks until every submitted job has finished.
func (s *Service) Wait() {
	s.queue.Wait()
}
