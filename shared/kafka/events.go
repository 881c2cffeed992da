package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"godeploy/logging"
	"godeploy/shared/message"
	"godeploy/shared/model"
)

// Sender is satisfied by Producer.
type Sender interface {
	SendMessage(topic string, key string, value interface{}) error
}

// EventPublisher mirrors deployment activity onto the bus. Send failures are
// logged and never reach the build.
type EventPublisher struct {
	sender Sender
	log    *logrus.Entry
}

func NewEventPublisher(sender Sender) *EventPublisher {
	return &EventPublisher{sender: sender, log: logging.C("events")}
}

func (p *EventPublisher) send(topic, key string, value interface{}) {
	if err := p.sender.SendMessage(topic, key, value); err != nil {
		p.log.WithField("deployment_id", key).Warnf("⚠️ Failed to send %s message: %v", topic, err)
	}
}

func (p *EventPublisher) StatusChanged(_ context.Context, deploymentID string, _, to model.Status, msg string) {
	p.send(message.TopicDeploymentStatus, deploymentID, message.DeploymentStatusMessage{
		DeploymentID: deploymentID,
		Status:       string(to),
		Message:      msg,
		UpdatedAt:    time.Now(),
	})
}

func (p *EventPublisher) LogLine(_ context.Context, deploymentID, line string) {
	p.send(message.TopicDeploymentLogs, deploymentID, message.DeploymentLogMessage{
		DeploymentID: deploymentID,
		LogEntry:     line,
		Timestamp:    time.Now(),
	})
}

func (p *EventPublisher) Completed(_ context.Context, msg message.DeploymentCompletionMessage) {
	p.send(message.TopicDeploymentCompletions, msg.DeploymentID, msg)
}

// Submitter queues a deployment by id.
type Submitter interface {
	Submit(ctx context.Context, deploymentID string) (*model.Deployment, error)
}

// DeploymentRequestHandler turns deployment-requests messages into Submit
// calls. The message key is used when the body carries no id.
func DeploymentRequestHandler(ctx context.Context, submitter Submitter) MessageHandler {
	log := logging.C("events")
	return func(key, value []byte) error {
		var req message.DeploymentRequestMessage
		if err := UnmarshalMessage(value, &req); err != nil {
			return fmt.Errorf("decoding deployment request: %w", err)
		}
		if strings.TrimSpace(req.DeploymentID) == "" {
			req.DeploymentID = string(key)
		}
		log.WithField("deployment_id", req.DeploymentID).Info("📨 Received deployment request")
		if _, err := submitter.Submit(ctx, req.DeploymentID); err != nil {
			return fmt.Errorf("submitting %s: %w", req.DeploymentID, err)
		}
		return nil
	}
}
