package state

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godeploy/shared/model"
	"godeploy/store"
)

type recordingListener struct {
	edges []string
}

func (r *recordingListener) StatusChanged(_ context.Context, id string, from, to model.Status, _ string) {
	r.edges = append(r.edges, id+":"+string(from)+"->"+string(to))
}

func newMachine(t *testing.T) (*Machine, store.Store, *recordingListener) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := store.NewRedisStore(client)
	l := &recordingListener{}
	return NewMachine(s, l), s, l
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to model.Status
		ok       bool
	}{
		{model.StatusQueued, model.StatusBuilding, true},
		{model.StatusBuilding, model.StatusReady, true},
		{model.StatusBuilding, model.StatusError, true},
		{model.StatusQueued, model.StatusReady, false},
		{model.StatusQueued, model.StatusError, false},
		{model.StatusReady, model.StatusBuilding, false},
		{model.StatusError, model.StatusBuilding, false},
		{model.StatusBuilding, model.StatusBuilding, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
	assert.True(t, model.StatusReady.Terminal())
	assert.True(t, model.StatusError.Terminal())
	assert.False(t, model.StatusBuilding.Terminal())
}

func TestMachineHappyPath(t *testing.T) {
	ctx := context.Background()
	m, s, l := newMachine(t)
	require.NoError(t, s.CreateDeployment(ctx, &model.Deployment{ID: "dep-1", ProjectID: "p", Status: model.StatusQueued}))

	from, err := m.Transition(ctx, "dep-1", model.StatusBuilding, "Build started")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, from)

	require.NoError(t, m.Finish(ctx, "dep-1", model.StatusReady, "a\nb", "done"))

	d, err := s.FindDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, d.Status)
	assert.Equal(t, "a\nb", d.Logs)
	assert.Equal(t, []string{"dep-1:Queued->Building", "dep-1:Building->Ready"}, l.edges)
}

func TestMachineRejectsTerminalReentry(t *testing.T) {
	ctx := context.Background()
	m, s, l := newMachine(t)
	require.NoError(t, s.CreateDeployment(ctx, &model.Deployment{ID: "dep-1", ProjectID: "p", Status: model.StatusReady}))

	_, err := m.Transition(ctx, "dep-1", model.StatusBuilding, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	assert.Empty(t, l.edges)

	status, err := m.Current(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, status)
}

func TestMachineFinishRequiresTerminal(t *testing.T) {
	ctx := context.Background()
	m, s, _ := newMachine(t)
	require.NoError(t, s.CreateDeployment(ctx, &model.Deployment{ID: "dep-1", ProjectID: "p", Status: model.StatusBuilding}))

	err := m.Finish(ctx, "dep-1", model.StatusBuilding, "", "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestMachineUnknownDeployment(t *testing.T) {
	m, _, _ := newMachine(t)
	_, err := m.Current(context.Background(), "ghost")
	assert.True(t, errors.Is(err, store.ErrDeploymentNotFound))
}

// oversizedLogsStore rejects every transcript write, like a column that is too small.
type oversizedLogsStore struct {
	store.Store
}

func (s oversizedLogsStore) UpdateDeployment(ctx context.Context, id string, update store.DeploymentUpdate) error {
	if update.Logs != nil {
		return errors.New("Data too long for column 'logs'")
	}
	return s.Store.UpdateDeployment(ctx, id, update)
}

func TestMachineFinishSettlesStatusWhenTranscriptFails(t *testing.T) {
	ctx := context.Background()
	_, s, l := newMachine(t)
	m := NewMachine(oversizedLogsStore{s}, l)
	require.NoError(t, s.CreateDeployment(ctx, &model.Deployment{ID: "dep-1", ProjectID: "p", Status: model.StatusBuilding}))

	err := m.Finish(ctx, "dep-1", model.StatusError, "very long transcript", "build failed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting transcript of dep-1")

	status, err := m.Current(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, status)
	assert.Equal(t, []string{"dep-1:Building->Error"}, l.edges)
}
