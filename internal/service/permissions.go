package service

import (
	"github.com/spec-kit/support-chat/internal/domain"
	apperrors "github.com/spec-kit/support-chat/pkg/util/errorutil"
)

// Operation names an action checked against the permission table.
type Operation string

const (
	OpCreate      Operation = "create"
	OpAccept      Operation = "accept"
	OpReject      Operation = "reject"
	OpClose       Operation = "close"
	OpReopen      Operation = "reopen"
	OpPostMessage Operation = "post_message"
	OpView        Operation = "view"
	OpHint        Operation = "inactivity_hint"
)

// Relation is the tie between the actor and a ticket a rule requires.
type Relation string

const (
	RelationAny         Relation = "any"
	RelationOwner       Relation = "owner"
	RelationAssignee    Relation = "assignee"
	RelationParticipant Relation = "participant"
)

// permissions maps an operation and role to the relation the actor must
// have with the ticket. A missing entry denies the role outright.
var permissions = map[Operation]map[domain.Role]Relation{
	OpCreate: {
		domain.RoleUser: RelationAny,
	},
	OpAccept: {
		domain.RoleMember: RelationAny,
	},
	OpReject: {
		domain.RoleMember: RelationAny,
	},
	OpClose: {
		domain.RoleMember: RelationAssignee,
	},
	OpReopen: {
		domain.RoleUser:   RelationOwner,
		domain.RoleMember: RelationAssignee,
	},
	OpPostMessage: {
		domain.RoleUser:   RelationParticipant,
		domain.RoleMember: RelationParticipant,
	},
	OpHint: {
		domain.RoleUser:   RelationParticipant,
		domain.RoleMember: RelationParticipant,
	},
	OpView: {
		domain.RoleUser:   RelationOwner,
		domain.RoleMember: RelationAny,
		domain.RoleAdmin:  RelationAny,
	},
}

// roleAllowed reports whether the role appears in the operation's table at
// all. It lets callers fail fast before loading the ticket.
func roleAllowed(op Operation, actor *domain.Identity) error {
	if !actor.Authenticated() {
		return apperrors.NewUnauthorized("authentication required")
	}
	if _, ok := permissions[op][actor.Role]; !ok {
		return apperrors.NewForbidden(string(op) + " not permitted for role " + string(actor.Role))
	}
	return nil
}

// authorize checks the full rule, relation included, against ticket.
func authorize(op Operation, actor *domain.Identity, ticket *domain.Ticket) error {
	if err := roleAllowed(op, actor); err != nil {
		return err
	}
	relation := permissions[op][actor.Role]

	var ok bool
	switch relation {
	case RelationAny:
		ok = true
	case RelationOwner:
		ok = ticket != nil && ticket.IsOwner(actor.UserID)
	case RelationAssignee:
		ok = ticket != nil && ticket.IsAssignee(actor.UserID)
	case RelationParticipant:
		ok = ticket != nil && (ticket.IsOwner(actor.UserID) || ticket.IsAssignee(actor.UserID))
	}
	if !ok {
		return apperrors.NewForbidden("not a " + string(relation) + " of this ticket")
	}
	return nil
}
