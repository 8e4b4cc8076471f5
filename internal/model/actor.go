package model

// Actor is the authenticated caller identity passed explicitly to every
// operation. How the ID was authenticated is outside the settlement core;
// operator status comes from configuration.
type Actor struct {
	ID       string
	Operator bool
}

// System is the actor used by background tasks such as the expiry reaper.
var System = Actor{ID: "system", Operator: true}

// Is reports whether the actor is the given user.
func (a Actor) Is(userID string) bool {
	return a.ID == userID
}

// CanActFor reports whether the actor is the given user or an operator.
func (a Actor) CanActFor(userID string) bool {
	return a.Operator || a.ID == userID
}
