// Package authz decides what an actor may do with an appointment.
//
// Every role and ownership check in the service goes through Can so the
// rules live in one table instead of being repeated at each call site.
package authz

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleProvider Role = "PROVIDER"
	RolePatient  Role = "PATIENT"
)

// ParseRole accepts the role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleProvider, RolePatient:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Actor is the authenticated caller of a single operation. It is passed in
// explicitly and never stored.
type Actor struct {
	Role       Role
	PatientID  *uuid.UUID
	ProviderID *uuid.UUID
}

func Admin() Actor {
	return Actor{Role: RoleAdmin}
}

func Patient(id uuid.UUID) Actor {
	return Actor{Role: RolePatient, PatientID: &id}
}

func Provider(id uuid.UUID) Actor {
	return Actor{Role: RoleProvider, ProviderID: &id}
}

// LinkedPatient returns the linked patient id for a PATIENT actor.
func (a Actor) LinkedPatient() (uuid.UUID, bool) {
	if a.Role != RolePatient || a.PatientID == nil {
		return uuid.Nil, false
	}
	return *a.PatientID, true
}

// LinkedProvider returns the linked provider id for a PROVIDER actor.
func (a Actor) LinkedProvider() (uuid.UUID, bool) {
	if a.Role != RoleProvider || a.ProviderID == nil {
		return uuid.Nil, false
	}
	return *a.ProviderID, true
}

func (a Actor) String() string {
	switch {
	case a.PatientID != nil:
		return fmt.Sprintf("%s(patient=%s)", a.Role, a.PatientID)
	case a.ProviderID != nil:
		return fmt.Sprintf("%s(provider=%s)", a.Role, a.ProviderID)
	default:
		return string(a.Role)
	}
}

type Action int

const (
	ActionBook Action = iota + 1
	ActionConfirm
	ActionCancel
	ActionView
)

func (a Action) String() string {
	switch a {
	case ActionBook:
		return "book"
	case ActionConfirm:
		return "confirm"
	case ActionCancel:
		return "cancel"
	case ActionView:
		return "view"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Ownership names the patient and provider an appointment (or a booking
// request) belongs to.
type Ownership struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
}

// Can reports whether actor may perform action on a resource with the given
// ownership.
//
//	book     ADMIN, or the PATIENT it is for. Providers never book.
//	confirm  only the owning PROVIDER.
//	cancel   ADMIN, the owning PATIENT or the owning PROVIDER.
//	view     same as cancel.
func Can(actor Actor, action Action, own Ownership) bool {
	isAdmin := actor.Role == RoleAdmin
	patientOwner := false
	if id, ok := actor.LinkedPatient(); ok && id == own.PatientID {
		patientOwner = true
	}
	providerOwner := false
	if id, ok := actor.LinkedProvider(); ok && id == own.ProviderID {
		providerOwner = true
	}

	switch action {
	case ActionBook:
		return isAdmin || patientOwner
	case ActionConfirm:
		return providerOwner
	case ActionCancel, ActionView:
		return isAdmin || patientOwner || providerOwner
	default:
		return false
	}
}
