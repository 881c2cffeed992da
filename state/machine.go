// Package state owns the authoritative status of a deployment. Only the
// executor moves a deployment forward; everyone else reads through Current.
package state

import (
	"context"
	"errors"
	"fmt"

	"godeploy/shared/model"
	"godeploy/store"
)

// Listener is told about every committed transition.
type Listener interface {
	StatusChanged(ctx context.Context, deploymentID string, from, to model.Status, message string)
}

type Machine struct {
	store     store.Store
	listeners []Listener
}

func NewMachine(s store.Store, listeners ...Listener) *Machine {
	return &Machine{store: s, listeners: listeners}
}

func (m *Machine) Current(ctx context.Context, deploymentID string) (model.Status, error) {
	d, err := m.store.FindDeployment(ctx, deploymentID)
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

// Transition moves deploymentID to `to` if the edge from its current status is
// allowed, and returns the status it left.
func (m *Machine) Transition(ctx context.Context, deploymentID string, to model.Status, message string) (model.Status, error) {
	d, err := m.store.FindDeployment(ctx, deploymentID)
	if err != nil {
		return "", err
	}
	from := d.Status
	if err := from.CheckTransition(to); err != nil {
		return from, fmt.Errorf("deployment %s: %w", deploymentID, err)
	}
	if err := m.store.UpdateDeployment(ctx, deploymentID, store.StatusUpdate(to)); err != nil {
		return from, fmt.Errorf("updating status of %s: %w", deploymentID, err)
	}
	for _, l := range m.listeners {
		l.StatusChanged(ctx, deploymentID, from, to, message)
	}
	return from, nil
}

// Finish persists the transcript and then the terminal status, in that order,
// so a reader that sees the terminal status also sees the full transcript.
// A transcript that cannot be written still lets the status move on; the
// deployment must never stay Building.
func (m *Machine) Finish(ctx context.Context, deploymentID string, to model.Status, transcript, message string) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", model.ErrInvalidTransition, to)
	}
	var logsErr error
	if err := m.store.UpdateDeployment(ctx, deploymentID, store.LogsUpdate(transcript)); err != nil {
		logsErr = fmt.Errorf("persisting transcript of %s: %w", deploymentID, err)
	}
	_, err := m.Transition(ctx, deploymentID, to, message)
	return errors.Join(logsErr, err)
}
