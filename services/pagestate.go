package services

import (
	"errors"
	"fmt"

	"grailed-lister/models"
)

// Action is what the orchestrator should do next for a given surface.
type Action int

const (
	ActionNavigate Action = iota
	ActionWaitForLogin
	ActionFillForm
)

func (a Action) String() string {
	switch a {
	case ActionNavigate:
		return "navigate"
	case ActionWaitForLogin:
		return "wait-for-login"
	case ActionFillForm:
		return "fill-form"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ErrUnexpectedTransition marks a surface change the site should not make on
// its own. The machine still follows the browser to the new surface.
var ErrUnexpectedTransition = errors.New("unexpected surface transition")

var transitions = map[models.Surface][]models.Surface{
	models.SurfaceUnknown: {
		models.SurfaceUnknown, models.SurfaceHomepage, models.SurfaceLogin,
		models.SurfaceListingForm, models.SurfaceSubmitted, models.SurfaceError,
	},
	models.SurfaceHomepage: {
		models.SurfaceHomepage, models.SurfaceLogin, models.SurfaceListingForm,
		models.SurfaceError, models.SurfaceUnknown,
	},
	models.SurfaceLogin: {
		models.SurfaceLogin, models.SurfaceHomepage, models.SurfaceListingForm,
		models.SurfaceError, models.SurfaceUnknown,
	},
	models.SurfaceListingForm: {
		models.SurfaceListingForm, models.SurfaceHomepage, models.SurfaceLogin,
		models.SurfaceSubmitted, models.SurfaceError, models.SurfaceUnknown,
	},
	models.SurfaceSubmitted: {
		models.SurfaceSubmitted, models.SurfaceHomepage, models.SurfaceLogin,
		models.SurfaceListingForm, models.SurfaceError, models.SurfaceUnknown,
	},
	models.SurfaceError: {
		models.SurfaceError, models.SurfaceHomepage, models.SurfaceLogin,
		models.SurfaceListingForm, models.SurfaceUnknown,
	},
}

// SurfaceMachine tracks which page the browser session is on. Each detected
// surface is fed to Observe; Next tells the orchestrator what to do.
type SurfaceMachine struct {
	current models.Surface
	history []models.Surface
}

// NewSurfaceMachine starts in the unknown state.
func NewSurfaceMachine() *SurfaceMachine {
	return &SurfaceMachine{current: models.SurfaceUnknown}
}

// Current returns the last observed surface.
func (m *SurfaceMachine) Current() models.Surface { return m.current }

// History returns every surface observed so far, oldest first.
func (m *SurfaceMachine) History() []models.Surface {
	return append([]models.Surface(nil), m.history...)
}

// Observe records a detected surface. A surface the site should never jump
// to from the current one (a submission confirmation straight from the login
// page, say) is still recorded, since the browser is already there, and the
// returned error wraps ErrUnexpectedTransition. Unknown surface names are
// rejected and leave the state unchanged.
func (m *SurfaceMachine) Observe(next models.Surface) error {
	if _, ok := transitions[next]; !ok {
		return fmt.Errorf("unknown surface %q", next)
	}

	prev := m.current
	m.current = next
	m.history = append(m.history, next)

	for _, s := range transitions[prev] {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrUnexpectedTransition, prev, next)
}

// Next maps the current surface to the orchestrator's next action. Any
// surface other than the form or the login page needs a fresh navigation.
func (m *SurfaceMachine) Next() Action {
	switch m.current {
	case models.SurfaceListingForm:
		return ActionFillForm
	case models.SurfaceLogin:
		return ActionWaitForLogin
	default:
		return ActionNavigate
	}
}
