package model

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusQueued   Status = "Queued"
	StatusBuilding Status = "Building"
	StatusReady    Status = "Ready"
	StatusError    Status = "Error"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists every allowed edge. Ready and Error have none.
var transitions = map[Status][]Status{
	StatusQueued:   {StatusBuilding},
	StatusBuilding: {StatusReady, StatusError},
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusBuilding, StatusReady, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an error wrapping ErrInvalidTransition when s cannot move to to.
func (s Status) CheckTransition(to Status) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return nil
}
