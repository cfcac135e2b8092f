package models

// Status is the lifecycle state of a sticker application.
type Status string

const (
	StatusSubmitted          Status = "submitted"
	StatusApproved           Status = "approved"
	StatusReadyForCollection Status = "ready_for_collection"
	StatusCollected          Status = "collected"
	StatusIncomplete         Status = "incomplete"
)

// transitions is the only place legal status moves are defined.
var transitions = map[Status][]Status{
	StatusSubmitted:          {StatusApproved, StatusIncomplete},
	StatusApproved:           {StatusReadyForCollection},
	StatusReadyForCollection: {StatusCollected},
	StatusCollected:          nil,
	StatusIncomplete:         nil,
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusSubmitted,
	StatusApproved,
	StatusReadyForCollection,
	StatusCollected,
	StatusIncomplete,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// IsIssued reports whether an application in this status must carry a serial.
func (s Status) IsIssued() bool {
	switch s {
	case StatusApproved, StatusReadyForCollection, StatusCollected:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// ApplicationType distinguishes first-time applications from renewals.
type ApplicationType string

const (
	TypeNew     ApplicationType = "new"
	TypeRenewal ApplicationType = "renewal"
)

func (t ApplicationType) Valid() bool {
	return t == TypeNew || t == TypeRenewal
}

// ReferencePrefix is the two-letter prefix of reference numbers for this type.
func (t ApplicationType) ReferencePrefix() string {
	if t == TypeRenewal {
		return "RP"
	}
	return "RB"
}
