// Package builder runs one deployment: clone, install, build, publish.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"godeploy/artifact"
	"godeploy/logging"
	"godeploy/metrics"
	"godeploy/notification"
	"godeploy/shared/message"
	"godeploy/shared/model"
	"godeploy/state"
	"godeploy/store"
)

// Failure reasons shown to the user at the end of the transcript.
const (
	ReasonProject    = "project not found"
	ReasonClone      = "clone failed"
	ReasonInstall    = "install failed"
	ReasonBuild      = "build failed"
	ReasonSpawn      = "spawn error"
	ReasonPublish    = "publish failed"
	ReasonUnexpected = "unexpected error"
)

const (
	AlreadyBuiltNotice = "Deployment already built, nothing to do."
	SuccessLine        = "Build completed successfully."
	stderrPrefix       = "ERROR: "
	sourceDir          = "src"
)

type BuildError struct {
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Publisher uploads a build's output directory.
type Publisher interface {
	Publish(ctx context.Context, projectID, outputDir string) (artifact.Result, error)
}

// Events receives build output and outcomes for the event bus.
type Events interface {
	LogLine(ctx context.Context, deploymentID, line string)
	Completed(ctx context.Context, msg message.DeploymentCompletionMessage)
}

type nopEvents struct{}

func (nopEvents) LogLine(context.Context, string, string) {}
func (nopEvents) Completed(context.Context, message.DeploymentCompletionMessage) {}

type Config struct {
	Store     store.Store
	Machine   *state.Machine
	Hub       *notification.Hub
	Cloner    Cloner
	Runner    Runner
	Publisher Publisher
	Events    Events // optional
	WorkRoot  string
}

// Executor performs a single deployment at a time. The queue guarantees it
// is never called concurrently.
type Executor struct {
	store     store.Store
	machine   *state.Machine
	hub       *notification.Hub
	cloner    Cloner
	runner    Runner
	publisher Publisher
	events    Events
	workRoot  string
	log       *logrus.Entry
}

func NewExecutor(cfg Config) *Executor {
	events := cfg.Events
	if events == nil {
		events = nopEvents{}
	}
	return &Executor{
		store:     cfg.Store,
		machine:   cfg.Machine,
		hub:       cfg.Hub,
		cloner:    cfg.Cloner,
		runner:    cfg.Runner,
		publisher: cfg.Publisher,
		events:    events,
		workRoot:  cfg.WorkRoot,
		log:       logging.C("builder"),
	}
}

// WorkDir is the checkout location of a project. projectID must pass
// checkProjectID first.
func (e *Executor) WorkDir(projectID string) string {
	return filepath.Join(e.workRoot, projectID)
}

// checkProjectID accepts only ids that name a single directory below the
// work root.
func checkProjectID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return fmt.Errorf("invalid project id %q", id)
	}
	return nil
}

// transcript collects every line of one build and fans it out as it arrives.
type transcript struct {
	ctx          context.Context
	deploymentID string
	channel      *notification.Channel
	events       Events
	lines        []string
}

func (t *transcript) emit(line string) {
	t.lines = append(t.lines, line)
	t.channel.Publish(line)
	t.events.LogLine(t.ctx, t.deploymentID, line)
}

func (t *transcript) String() string {
	return strings.Join(t.lines, "\n")
}

// Execute runs job to a terminal status. A returned error has already been
// recorded on the deployment; callers only need to log it.
func (e *Executor) Execute(ctx context.Context, job model.Job) error {
	log := e.log.WithField("deployment_id", job.DeploymentID)

	d, err := e.store.FindDeployment(ctx, job.DeploymentID)
	if err != nil {
		return fmt.Errorf("loading deployment %s: %w", job.DeploymentID, err)
	}
	if d.Status == model.StatusReady {
		log.Info("⏭️ Deployment already built, skipping")
		_ = e.hub.Publish(d.ID, AlreadyBuiltNotice)
		e.events.LogLine(ctx, d.ID, AlreadyBuiltNotice)
		return nil
	}
	if err := d.Status.CheckTransition(model.StatusBuilding); err != nil {
		return fmt.Errorf("deployment %s: %w", d.ID, err)
	}

	projectID := d.ProjectID
	if projectID == "" {
		projectID = job.ProjectID
	}
	log = log.WithField("project_id", projectID)
	log.Infof("🔨 Processing deployment %s", d.ID)

	t := &transcript{
		ctx:          ctx,
		deploymentID: d.ID,
		channel:      e.hub.OpenChannel(d.ID),
		events:       e.events,
	}
	defer e.hub.Close(d.ID)

	started := time.Now()
	if _, err := e.machine.Transition(ctx, d.ID, model.StatusBuilding, "Build started"); err != nil {
		return err
	}

	var (
		res      artifact.Result
		buildErr error
	)
	if err := checkProjectID(projectID); err != nil {
		buildErr = &BuildError{Reason: ReasonProject, Err: err}
	} else {
		workDir := e.WorkDir(projectID)
		res, buildErr = e.build(ctx, projectID, workDir, t)
		if err := os.RemoveAll(workDir); err != nil {
			log.Warnf("⚠️ Failed to clean up work directory: %v", err)
		}
	}

	completion := message.DeploymentCompletionMessage{
		DeploymentID: d.ID,
		ProjectID:    projectID,
		Uploaded:     res.Uploaded,
	}

	if buildErr != nil {
		reason := ReasonUnexpected
		var be *BuildError
		if errors.As(buildErr, &be) {
			reason = be.Reason
		}
		log.Errorf("❌ Build failed: %v", buildErr)
		t.emit("Build failed: " + reason)

		if err := e.machine.Finish(ctx, d.ID, model.StatusError, t.String(), reason); err != nil {
			log.Errorf("❌ Failed to record failure: %v", err)
		}
		completion.Status = string(model.StatusError)
		completion.Reason = reason
		e.complete(ctx, completion, started)
		return buildErr
	}

	t.emit(SuccessLine)
	if err := e.machine.Finish(ctx, d.ID, model.StatusReady, t.String(), SuccessLine); err != nil {
		log.Errorf("❌ Failed to record success: %v", err)
		return err
	}
	completion.Status = string(model.StatusReady)
	e.complete(ctx, completion, started)
	log.Infof("✅ Deployment %s is ready (%d files published)", d.ID, res.Uploaded)
	return nil
}

func (e *Executor) complete(ctx context.Context, msg message.DeploymentCompletionMessage, started time.Time) {
	elapsed := time.Since(started)
	msg.Duration = elapsed.Milliseconds()
	msg.CompletedAt = time.Now()
	metrics.ObserveDeployment(msg.Status, elapsed)
	e.events.Completed(ctx, msg)
}

// build runs the clone, install, build and publish steps. Any panic is turned
// into a failure so the caller's cleanup still runs.
func (e *Executor) build(ctx context.Context, projectID, workDir string, t *transcript) (res artifact.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BuildError{Reason: ReasonUnexpected, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	project, err := e.store.FindProject(ctx, projectID)
	if err != nil {
		return res, &BuildError{Reason: ReasonProject, Err: err}
	}

	if _, statErr := os.Stat(workDir); errors.Is(statErr, fs.ErrNotExist) {
		t.emit(fmt.Sprintf("Cloning %s...", project.RepositoryURL))
		progress := newLineWriter(t.emit)
		err := e.cloner.Clone(ctx, project.RepositoryURL, project.Branch, workDir, progress)
		progress.Flush()
		if err != nil {
			return res, &BuildError{Reason: ReasonClone, Err: err}
		}
	}

	if err := e.step(ctx, project.InstallCmd, workDir, ReasonInstall, t); err != nil {
		return res, err
	}
	if err := e.step(ctx, project.BuildCmd, workDir, ReasonBuild, t); err != nil {
		return res, err
	}

	if err := os.RemoveAll(filepath.Join(workDir, sourceDir)); err != nil {
		e.log.WithField("project_id", projectID).Warnf("⚠️ Failed to remove %s: %v", sourceDir, err)
	}

	outputDir := filepath.Join(workDir, project.OutputDirOrDefault())
	t.emit(fmt.Sprintf("Publishing %s...", project.OutputDirOrDefault()))
	res, err = e.publisher.Publish(ctx, project.ID, outputDir)
	if err != nil {
		return res, &BuildError{Reason: ReasonPublish, Err: err}
	}
	if res.Failed > 0 {
		t.emit(fmt.Sprintf("Published %d files, %d failed to upload", res.Uploaded, res.Failed))
	} else {
		t.emit(fmt.Sprintf("Published %d files", res.Uploaded))
	}
	return res, nil
}

// step runs one shell command. An empty command is skipped.
func (e *Executor) step(ctx context.Context, command, workDir, reason string, t *transcript) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	t.emit(command)
	code, err := e.runner.Run(ctx, command, workDir, func(stream Stream, chunk string) {
		if stream == Stderr {
			chunk = stderrPrefix + chunk
		}
		for _, line := range CleanLines(chunk) {
			t.emit(line)
		}
	})
	if err != nil {
		return &BuildError{Reason: ReasonSpawn, Err: err}
	}
	if code != 0 {
		return &BuildError{Reason: reason, Err: fmt.Errorf("%q exited with code %d", command, code)}
	}
	return nil
}
