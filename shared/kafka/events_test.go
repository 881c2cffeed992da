package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godeploy/shared/message"
	"godeploy/shared/model"
)

type sent struct {
	topic string
	key   string
	value interface{}
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) SendMessage(topic, key string, value interface{}) error {
	f.sent = append(f.sent, sent{topic, key, value})
	return f.err
}

func TestEventPublisher(t *testing.T) {
	s := &fakeSender{}
	p := NewEventPublisher(s)
	ctx := context.Background()

	p.StatusChanged(ctx, "dep-1", model.StatusQueued, model.StatusBuilding, "Build started")
	p.LogLine(ctx, "dep-1", "npm install")
	p.Completed(ctx, message.DeploymentCompletionMessage{DeploymentID: "dep-1", Status: "Ready"})

	require.Len(t, s.sent, 3)
	assert.Equal(t, message.TopicDeploymentStatus, s.sent[0].topic)
	assert.Equal(t, "Building", s.sent[0].value.(message.DeploymentStatusMessage).Status)
	assert.Equal(t, message.TopicDeploymentLogs, s.sent[1].topic)
	assert.Equal(t, "npm install", s.sent[1].value.(message.DeploymentLogMessage).LogEntry)
	assert.Equal(t, message.TopicDeploymentCompletions, s.sent[2].topic)
	for _, m := range s.sent {
		assert.Equal(t, "dep-1", m.key)
	}
}

func TestEventPublisherSwallowsSendErrors(t *testing.T) {
	s := &fakeSender{err: errors.New("queue full")}
	assert.NotPanics(t, func() {
		NewEventPublisher(s).LogLine(context.Background(), "dep-1", "x")
	})
}

type fakeSubmitter struct {
	ids []string
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, id string) (*model.Deployment, error) {
	f.ids = append(f.ids, id)
	return &model.Deployment{ID: id}, f.err
}

func TestDeploymentRequestHandler(t *testing.T) {
	sub := &fakeSubmitter{}
	handle := DeploymentRequestHandler(context.Background(), sub)

	body, err := json.Marshal(message.DeploymentRequestMessage{DeploymentID: "dep-7"})
	require.NoError(t, err)
	require.NoError(t, handle([]byte("ignored"), body))
	require.NoError(t, handle([]byte("dep-8"), []byte(`{}`)))
	assert.Equal(t, []string{"dep-7", "dep-8"}, sub.ids)

	assert.Error(t, handle(nil, []byte("not json")))

	sub.err = errors.New("already building")
	assert.Error(t, handle(nil, body))
}
