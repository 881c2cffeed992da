package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godeploy/artifact"
	"godeploy/builder"
	"godeploy/notification"
	"godeploy/shared/model"
	"godeploy/state"
	"godeploy/store"
)

// okRunner succeeds for every command.
type okRunner struct{}

func (okRunner) Run(_ context.Context, command, _ string, onOutput builder.OutputFunc) (int, error) {
	onOutput(builder.Stdout, "ran "+command)
	return 0, nil
}

type distCloner struct{}

func (distCloner) Clone(_ context.Context, _, _, dest string, _ io.Writer) error {
	if err := os.MkdirAll(filepath.Join(dest, "dist"), 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "dist", "index.html"), []byte("<html>"), 0644)
}

type nullObjects struct{}

func (nullObjects) PutObject(context.Context, string, []byte) error { return nil }
func (nullObjects) GetObject(context.Context, string) ([]byte, error) {
	return nil, nil
}

type edgeRecorder struct {
	mu    sync.Mutex
	edges []string
}

func (r *edgeRecorder) StatusChanged(_ context.Context, id string, from, to model.Status, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, id+":"+string(from)+"->"+string(to))
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewRedisStore(client)
}

func seedProject(t *testing.T, s store.Store, autoDeploy bool) {
	t.Helper()
	require.NoError(t, s.SaveProject(context.Background(), &model.Project{
		ID:            "proj-1",
		RepositoryURL: "https://github.com/acme/site.git",
		Branch:        "main",
		InstallCmd:    "npm ci",
		BuildCmd:      "npm run build",
		AutoDeploy:    autoDeploy,
	}))
}

func seedDeployment(t *testing.T, s store.Store, id string, status model.Status) {
	t.Helper()
	require.NoError(t, s.CreateDeployment(context.Background(), &model.Deployment{
		ID: id, ProjectID: "proj-1", Status: status,
	}))
}

func newRealService(t *testing.T) (*Service, store.Store, *edgeRecorder) {
	t.Helper()
	s := newStore(t)
	rec := &edgeRecorder{}
	hub := notification.NewHub()
	exec := builder.NewExecutor(builder.Config{
		Store:     s,
		Machine:   state.NewMachine(s, rec),
		Hub:       hub,
		Cloner:    distCloner{},
		Runner:    okRunner{},
		Publisher: artifact.NewPublisher(nullObjects{}, artifact.Options{}),
		WorkRoot:  t.TempDir(),
	})
	return NewService(s, hub, exec), s, rec
}

func TestSubmitRunsDeploymentsSequentially(t *testing.T) {
	svc, s, rec := newRealService(t)
	ctx := context.Background()
	seedProject(t, s, false)
	seedDeployment(t, s, "dep1", model.StatusQueued)
	seedDeployment(t, s, "dep2", model.StatusQueued)

	_, err := svc.Submit(ctx, "dep1")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "dep2")
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, []string{
		"dep1:Queued->Building",
		"dep1:Building->Ready",
		"dep2:Queued->Building",
		"dep2:Building->Ready",
	}, rec.edges)

	lines, err := svc.Logs(ctx, "dep1")
	require.NoError(t, err)
	assert.Contains(t, lines, "ran npm ci")
	assert.Equal(t, builder.SuccessLine, lines[len(lines)-1])
}

func TestSubmitReadyDeploymentIsNoop(t *testing.T) {
	svc, s, rec := newRealService(t)
	seedProject(t, s, false)
	seedDeployment(t, s, "dep1", model.StatusReady)

	_, err := svc.Submit(context.Background(), "dep1")
	require.NoError(t, err)
	svc.Wait()
	assert.Empty(t, rec.edges)
}

func TestSubmitRejections(t *testing.T) {
	s := newStore(t)
	seedProject(t, s, false)
	seedDeployment(t, s, "building", model.StatusBuilding)
	seedDeployment(t, s, "failed", model.StatusError)
	seedDeployment(t, s, "waiting", model.StatusQueued)

	release := make(chan struct{})
	svc := NewService(s, notification.NewHub(), ExecutorFunc(func(context.Context, model.Job) error {
		<-release
		return nil
	}))
	ctx := context.Background()

	_, err := svc.Submit(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidDeploymentID)
	_, err = svc.Submit(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrDeploymentNotFound)
	_, err = svc.Submit(ctx, "building")
	assert.ErrorIs(t, err, ErrAlreadyBuilding)
	_, err = svc.Submit(ctx, "failed")
	assert.ErrorIs(t, err, ErrDeploymentFailed)

	_, err = svc.Submit(ctx, "waiting")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "waiting")
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	close(release)
	svc.Wait()

	// finished jobs leave the pending set
	_, err = svc.Submit(ctx, "waiting")
	assert.NoError(t, err)
	svc.Wait()
}

func TestSubmitConcurrentDuplicates(t *testing.T) {
	s := newStore(t)
	seedProject(t, s, false)
	seedDeployment(t, s, "dep1", model.StatusQueued)

	release := make(chan struct{})
	var runs sync.WaitGroup
	runs.Add(1)
	svc := NewService(s, notification.NewHub(), ExecutorFunc(func(context.Context, model.Job) error {
		defer runs.Done()
		<-release
		return nil
	}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Submit(context.Background(), "dep1"); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(release)
	svc.Wait()
	runs.Wait()
	assert.Equal(t, 1, accepted)
}

func TestDeployCreatesAndRunsDeployment(t *testing.T) {
	svc, s, _ := newRealService(t)
	seedProject(t, s, false)
	ctx := context.Background()

	d, err := svc.Deploy(ctx, "proj-1", Commit{Hash: "abc123", Message: "fix header"})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Deployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.Equal(t, "abc123", got.CommitHash)

	_, err = svc.Deploy(ctx, "nope", Commit{})
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
}

func TestDeployPush(t *testing.T) {
	svc, s, _ := newRealService(t)
	seedProject(t, s, true)
	ctx := context.Background()

	_, err := svc.DeployPush(ctx, "https://github.com/acme/site", "feature", Commit{})
	assert.ErrorIs(t, err, ErrPushIgnored)

	d, err := svc.DeployPush(ctx, "https://github.com/acme/site", "main", Commit{Hash: "def456"})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Deployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
}

func TestDeployPushAutoDeployOff(t *testing.T) {
	svc, s, _ := newRealService(t)
	seedProject(t, s, false)

	_, err := svc.DeployPush(context.Background(), "https://github.com/acme/site.git", "main", Commit{})
	assert.ErrorIs(t, err, ErrPushIgnored)
}
