package store

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/errhub/pkg/models"
)

// Action is an operator action on an error record.
type Action string

const (
	ActionAssign  Action = "assign"
	ActionStart   Action = "start"
	ActionResolve Action = "resolve"
	ActionIgnore  Action = "ignore"
)

// Transition describes one operator action.
type Transition struct {
	Action   Action
	Assignee string
	Actor    string
	// At is the transition time. Zero means time.Now().UTC().
	At time.Time
}

var open = []models.ResolutionStatus{models.StatusNew, models.StatusAssigned, models.StatusInProgress}

var validTransitions = map[Action]struct {
	from []models.ResolutionStatus
	to   models.ResolutionStatus
}{
	ActionAssign:  {from: open, to: models.StatusAssigned},
	ActionStart:   {from: []models.ResolutionStatus{models.StatusNew, models.StatusAssigned}, to: models.StatusInProgress},
	ActionResolve: {from: open, to: models.StatusResolved},
	ActionIgnore:  {from: open, to: models.StatusIgnored},
}

// NextStatus validates t against the current status and returns the target status.
func NextStatus(current models.ResolutionStatus, t Transition) (models.ResolutionStatus, error) {
	rule, ok := validTransitions[t.Action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, t.Action)
	}
	if t.Action == ActionAssign && t.Assignee == "" {
		return "", fmt.Errorf("%w: assign requires an assignee", ErrInvalidTransition)
	}
	for _, from := range rule.from {
		if from == current {
			return rule.to, nil
		}
	}
	return "", fmt.Errorf("%w: cannot %s a record in status %s", ErrInvalidTransition, t.Action, current)
}

func (t Transition) at() time.Time {
	if t.At.IsZero() {
		return time.Now().UTC()
	}
	return t.At.UTC()
}

// assignee returns the assignee the record holds after the transition.
func (t Transition) assignee(current *string) *string {
	if t.Action == ActionAssign {
		a := t.Assignee
		return &a
	}
	return current
}
