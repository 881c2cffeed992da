package message

import (
	"time"
)

// Topics shared between the deployer and anything listening on the bus.
const (
	TopicDeploymentRequests    = "deployment-requests"
	TopicDeploymentStatus      = "deployment-status"
	TopicDeploymentLogs        = "deployment-logs"
	TopicDeploymentCompletions = "deployment-completions"
)

type DeploymentRequestMessage struct {
	DeploymentID string    `json:"deployment_id"`
	ProjectID    string    `json:"project_id,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

type DeploymentStatusMessage struct {
	DeploymentID string    `json:"deployment_id"`
	Status       string    `json:"status"` // Queued, Building, Ready, Error
	Message      string    `json:"message"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type DeploymentLogMessage struct {
	DeploymentID string    `json:"deployment_id"`
	LogEntry     string    `json:"log_entry"`
	Timestamp    time.Time `json:"timestamp"`
}

type DeploymentCompletionMessage struct {
	DeploymentID string    `json:"deployment_id"`
	ProjectID    string    `json:"project_id"`
	Status       string    `json:"status"` // Ready or Error
	Reason       string    `json:"reason,omitempty"`
	Uploaded     int       `json:"uploaded"`
	Duration     int64     `json:"duration"` // in milliseconds
	CompletedAt  time.Time `json:"completed_at"`
}
