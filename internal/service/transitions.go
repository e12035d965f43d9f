package service

import (
	"fmt"
	"slices"

	"github.com/EpicMandM/evcharge-booking/internal/apperror"
	"github.com/EpicMandM/evcharge-booking/internal/models"
)

// Action is a caller-initiated booking transition.
type Action string

const (
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionCancel   Action = "cancel"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
)

// Actions lists every transition in table order.
var Actions = []Action{ActionCreate, ActionEdit, ActionCancel, ActionApprove, ActionReject, ActionStart, ActionComplete}

// scope narrows which bookings a role may act on.
type scope int

const (
	scopeAny scope = iota
	scopeSelf
	scopeAssigned
)

type rule struct {
	roles map[models.Role]scope
	// from is empty only for create, which has no current status.
	from []models.Status
	// to is empty when the status is left unchanged.
	to                 models.Status
	leadTime           map[models.Role]bool
	needsActiveStation bool
	admits             bool
}

var transitions = map[Action]rule{
	ActionCreate: {
		roles:              map[models.Role]scope{models.RoleOwner: scopeAny},
		to:                 models.StatusPending,
		needsActiveStation: true,
		admits:             true,
	},
	ActionEdit: {
		roles:              map[models.Role]scope{models.RoleOwner: scopeSelf},
		from:               []models.Status{models.StatusPending, models.StatusApproved},
		leadTime:           map[models.Role]bool{models.RoleOwner: true},
		needsActiveStation: true,
		admits:             true,
	},
	ActionCancel: {
		roles:    map[models.Role]scope{models.RoleOwner: scopeSelf, models.RoleBackoffice: scopeAny},
		from:     []models.Status{models.StatusPending, models.StatusApproved, models.StatusInProgress},
		to:       models.StatusCancelled,
		leadTime: map[models.Role]bool{models.RoleOwner: true},
	},
	ActionApprove: {
		roles:              map[models.Role]scope{models.RoleOperator: scopeAssigned, models.RoleBackoffice: scopeAny},
		from:               []models.Status{models.StatusPending, models.StatusApproved},
		to:                 models.StatusApproved,
		needsActiveStation: true,
		admits:             true,
	},
	ActionReject: {
		roles: map[models.Role]scope{models.RoleOperator: scopeAssigned, models.RoleBackoffice: scopeAny},
		from:  []models.Status{models.StatusPending, models.StatusApproved},
		to:    models.StatusRejected,
	},
	ActionStart: {
		roles: map[models.Role]scope{models.RoleOperator: scopeAssigned},
		from:  []models.Status{models.StatusApproved},
		to:    models.StatusInProgress,
	},
	ActionComplete: {
		roles: map[models.Role]scope{models.RoleOperator: scopeAssigned},
		from:  []models.Status{models.StatusInProgress},
		to:    models.StatusCompleted,
	},
}

// Facts are what the evaluator needs to know about the caller and the booking.
type Facts struct {
	Role     models.Role
	Status   models.Status
	Owns     bool
	Assigned bool
}

// Decision describes an allowed transition and the checks the caller must still run.
type Decision struct {
	To                 models.Status
	NeedsLeadTime      bool
	NeedsActiveStation bool
	Admits             bool
}

// Evaluate applies the transition table. Role and scope are checked before
// status so that callers without access learn nothing about the booking.
func Evaluate(action Action, f Facts) (Decision, error) {
	r, ok := transitions[action]
	if !ok {
		return Decision{}, apperror.Validation(apperror.GuardStatus, fmt.Sprintf("unknown action %q", action))
	}

	sc, ok := r.roles[f.Role]
	if !ok {
		return Decision{}, apperror.Authorization(apperror.GuardRole, fmt.Sprintf("role %q may not %s bookings", f.Role, action))
	}
	switch sc {
	case scopeSelf:
		if !f.Owns {
			return Decision{}, apperror.Authorization(apperror.GuardOwnership, "booking belongs to another owner")
		}
	case scopeAssigned:
		if !f.Assigned {
			return Decision{}, apperror.Authorization(apperror.GuardAssignment, "operator is not assigned to this station")
		}
	}

	if len(r.from) == 0 {
		if f.Status != "" {
			return Decision{}, apperror.Conflict(apperror.GuardStatus, fmt.Sprintf("cannot %s an existing booking", action))
		}
	} else if !slices.Contains(r.from, f.Status) {
		return Decision{}, apperror.Conflict(apperror.GuardStatus, fmt.Sprintf("cannot %s a %s booking", action, f.Status))
	}

	to := r.to
	if to == "" {
		to = f.Status
	}
	return Decision{
		To:                 to,
		NeedsLeadTime:      r.leadTime[f.Role],
		NeedsActiveStation: r.needsActiveStation,
		Admits:             r.admits,
	}, nil
}
