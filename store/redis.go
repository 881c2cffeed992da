package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"godeploy/shared/model"
)

const (
	byDateKey   = "deployments:by_date"
	projectsKey = "projects:by_date"
)

// RedisStore keeps records as JSON documents, the way the build orchestrator did.
type RedisStore struct {
	redisClient *redis.Client
	now         func() time.Time
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{
		redisClient: redisClient,
		now:         time.Now,
	}
}

func deploymentKey(id string) string { return "deployment:" + id }
func projectKey(id string) string    { return "project:" + id }
func projectDeploymentsKey(id string) string {
	return "project:" + id + ":deployments"
}
func repositoryKey(url string) string {
	return "project:repo:" + RepositoryKey(url)
}
func domainKey(domainName string) string {
	return "project:domain:" + strings.ToLower(domainName)
}

func (s *RedisStore) FindDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	deploymentJSON, err := s.redisClient.Get(ctx, deploymentKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
		}
		return nil, err
	}

	var d model.Deployment
	if err := json.Unmarshal([]byte(deploymentJSON), &d); err != nil {
		return nil, fmt.Errorf("decoding deployment %s: %w", id, err)
	}
	return &d, nil
}

func (s *RedisStore) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return s.storeDeployment(ctx, d)
}

func (s *RedisStore) storeDeployment(ctx context.Context, d *model.Deployment) error {
	deploymentJSON, err := json.Marshal(d)
	if err != nil {
		return err
	}

	pipe := s.redisClient.TxPipeline()
	pipe.Set(ctx, deploymentKey(d.ID), deploymentJSON, 0)
	score := float64(d.CreatedAt.UnixMilli())
	pipe.ZAdd(ctx, byDateKey, &redis.Z{Score: score, Member: d.ID})
	pipe.ZAdd(ctx, projectDeploymentsKey(d.ProjectID), &redis.Z{Score: score, Member: d.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UpdateDeployment(ctx context.Context, id string, update DeploymentUpdate) error {
	key := deploymentKey(id)
	// WATCH so a concurrent writer cannot interleave between read and write.
	return s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		deploymentJSON, err := tx.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				return fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
			}
			return err
		}
		var d model.Deployment
		if err := json.Unmarshal([]byte(deploymentJSON), &d); err != nil {
			return fmt.Errorf("decoding deployment %s: %w", id, err)
		}
		apply(&d, update, s.now())
		updated, err := json.Marshal(&d)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) ListDeployments(ctx context.Context, projectID string, limit int) ([]*model.Deployment, error) {
	key := byDateKey
	if projectID != "" {
		key = projectDeploymentsKey(projectID)
	}
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.redisClient.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	deployments := make([]*model.Deployment, 0, len(ids))
	for _, id := range ids {
		d, err := s.FindDeployment(ctx, id)
		if err != nil {
			continue
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

func (s *RedisStore) FindProject(ctx context.Context, id string) (*model.Project, error) {
	projectJSON, err := s.redisClient.Get(ctx, projectKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		return nil, err
	}

	var p model.Project
	if err := json.Unmarshal([]byte(projectJSON), &p); err != nil {
		return nil, fmt.Errorf("decoding project %s: %w", id, err)
	}
	return &p, nil
}

func (s *RedisStore) FindProjectByRepository(ctx context.Context, repositoryURL string) (*model.Project, error) {
	id, err := s.redisClient.Get(ctx, repositoryKey(repositoryURL)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, repositoryURL)
		}
		return nil, err
	}
	return s.FindProject(ctx, id)
}

func (s *RedisStore) FindProjectByDomain(ctx context.Context, domainName string) (*model.Project, error) {
	if domainName == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrProjectNotFound)
	}
	id, err := s.redisClient.Get(ctx, domainKey(domainName)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, domainName)
		}
		return nil, err
	}
	return s.FindProject(ctx, id)
}

func (s *RedisStore) ListProjects(ctx context.Context) ([]*model.Project, error) {
	ids, err := s.redisClient.ZRevRange(ctx, projectsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	projects := make([]*model.Project, 0, len(ids))
	for _, id := range ids {
		p, err := s.FindProject(ctx, id)
		if err != nil {
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (s *RedisStore) SaveProject(ctx context.Context, p *model.Project) error {
	previous, err := s.FindProject(ctx, p.ID)
	if err != nil && !errors.Is(err, ErrProjectNotFound) {
		return err
	}

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	projectJSON, err := json.Marshal(p)
	if err != nil {
		return err
	}

	pipe := s.redisClient.TxPipeline()
	if previous != nil {
		// Lookup keys of a changed repository or domain must not keep pointing here.
		if repositoryKey(previous.RepositoryURL) != repositoryKey(p.RepositoryURL) {
			pipe.Del(ctx, repositoryKey(previous.RepositoryURL))
		}
		if previous.DomainName != "" && domainKey(previous.DomainName) != domainKey(p.DomainName) {
			pipe.Del(ctx, domainKey(previous.DomainName))
		}
	}
	pipe.Set(ctx, projectKey(p.ID), projectJSON, 0)
	pipe.Set(ctx, repositoryKey(p.RepositoryURL), p.ID, 0)
	if p.DomainName != "" {
		pipe.Set(ctx, domainKey(p.DomainName), p.ID, 0)
	}
	pipe.ZAdd(ctx, projectsKey, &redis.Z{Score: float64(p.CreatedAt.UnixMilli()), Member: p.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DeleteProject(ctx context.Context, id string) error {
	p, err := s.FindProject(ctx, id)
	if err != nil {
		return err
	}
	deploymentIDs, err := s.redisClient.ZRange(ctx, projectDeploymentsKey(id), 0, -1).Result()
	if err != nil {
		return err
	}

	pipe := s.redisClient.TxPipeline()
	for _, deploymentID := range deploymentIDs {
		pipe.Del(ctx, deploymentKey(deploymentID))
		pipe.ZRem(ctx, byDateKey, deploymentID)
	}
	pipe.Del(ctx, projectDeploymentsKey(id), projectKey(id), repositoryKey(p.RepositoryURL))
	if p.DomainName != "" {
		pipe.Del(ctx, domainKey(p.DomainName))
	}
	pipe.ZRem(ctx, projectsKey, id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.redisClient.Close()
}
