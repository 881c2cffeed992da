// shared/model/deployment.go
package model

import (
	"strings"
	"time"
)

// Job is a request to build one deployment. It is consumed exactly once by the queue.
type Job struct {
	DeploymentID string `json:"deployment_id"`
	ProjectID    string `json:"project_id"`
}

type Deployment struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Status        Status    `json:"status"`
	CommitHash    string    `json:"commit_hash,omitempty"`
	CommitMessage string    `json:"commit_message,omitempty"`
	Logs          string    `json:"logs,omitempty"` // newline separated transcript
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LogLines splits the persisted transcript back into lines.
func (d *Deployment) LogLines() []string {
	if d.Logs == "" {
		return nil
	}
	return strings.Split(d.Logs, "\n")
}

type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RepositoryURL string    `json:"repository_url"`
	Branch        string    `json:"branch,omitempty"`
	InstallCmd    string    `json:"install_cmd"`
	BuildCmd      string    `json:"build_cmd"`
	OutputDir     string    `json:"output_dir,omitempty"` // relative to the checkout, defaults to dist
	DomainName    string    `json:"domain_name,omitempty"`
	AutoDeploy    bool      `json:"auto_deploy"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const DefaultOutputDir = "dist"

// OutputDirOrDefault returns OutputDir if set, otherwise DefaultOutputDir.
func (p *Project) OutputDirOrDefault() string {
	if p.OutputDir != "" {
		return p.OutputDir
	}
	return DefaultOutputDir
}
