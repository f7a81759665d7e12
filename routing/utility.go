package routing

import "github.com/signalsfoundry/omn-routing/model"

// ContactUtility counts contacts per peer for utility-driven spraying.
type ContactUtility struct {
	contacts map[model.Address]int
}

func NewContactUtility() *ContactUtility {
	return &ContactUtility{contacts: make(map[model.Address]int)}
}

func (u *ContactUtility) OnContact(peer model.Address) {
	u.contacts[peer]++
}

// Utility of reaching dest: (1 + contacts with dest) * (1 + distinct peers).
func (u *ContactUtility) Utility(dest model.Address) float64 {
	return float64(1+u.contacts[dest]) * float64(1+len(u.contacts))
}

func (u *ContactUtility) Reset() {
	clear(u.contacts)
}
