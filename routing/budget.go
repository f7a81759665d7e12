package routing

import (
	"github.com/signalsfoundry/omn-routing/model"
)

// CopiesProperty is the message property carrying the remaining replica
// budget of a Spray-and-Wait message.
const CopiesProperty = "SprayAndWait.copies"

// ReplicaBudget implements Spray-and-Wait bookkeeping. A message without a
// copies property is not a budget message and every method leaves it alone.
type ReplicaBudget struct {
	initial int
	mode    SprayMode
}

// NewReplicaBudget returns a tracker attaching initial copies to new
// messages and splitting them according to mode.
func NewReplicaBudget(cfg SprayAndWaitConfig) *ReplicaBudget {
	return &ReplicaBudget{initial: cfg.InitialCopies, mode: cfg.Mode}
}

// Copies returns the replica count carried by m.
func Copies(m *model.Message) (int, bool) {
	return m.Int(CopiesProperty)
}

// InitialCopies is the configured budget for new messages.
func (b *ReplicaBudget) InitialCopies() int {
	return b.initial
}

// Mode returns the split mode.
func (b *ReplicaBudget) Mode() SprayMode {
	return b.mode
}

// Initialize attaches the full budget to m, replacing any previous count.
func (b *ReplicaBudget) Initialize(m *model.Message) {
	m.SetProperty(CopiesProperty, b.initial)
}

// EnsureInitialized attaches the full budget to m only if it has none.
// It reports whether a count was added.
func (b *ReplicaBudget) EnsureInitialized(m *model.Message) bool {
	if m.HasProperty(CopiesProperty) {
		return false
	}
	b.Initialize(m)
	return true
}

// HasBudget reports whether m may still be sprayed to non-destination
// peers (count > 1).
func (b *ReplicaBudget) HasBudget(m *model.Message) bool {
	n, ok := Copies(m)
	return ok && n > 1
}

// OnSend reduces the sender's count after a completed transfer: floor(n/2)
// in binary mode, n-1 in linear mode. It reports false when m carries no
// count.
func (b *ReplicaBudget) OnSend(m *model.Message) bool {
	n, ok := Copies(m)
	if !ok {
		return false
	}
	m.SetProperty(CopiesProperty, senderShare(n, b.mode))
	return true
}

// OnReceive sets the receiver's count from the sender's pre-transfer count
// carried by the replica: ceil(n/2) in binary mode, 1 in linear mode. It
// reports false when m carries no count.
func (b *ReplicaBudget) OnReceive(m *model.Message) bool {
	n, ok := Copies(m)
	if !ok {
		return false
	}
	m.SetProperty(CopiesProperty, receiverShare(n, b.mode))
	return true
}

// Strip removes the count, turning m back into a non-budget message.
func (b *ReplicaBudget) Strip(m *model.Message) {
	m.RemoveProperty(CopiesProperty)
}

func senderShare(n int, mode SprayMode) int {
	if n <= 0 {
		return 0
	}
	if mode == SprayLinear {
		return n - 1
	}
	return n / 2
}

func receiverShare(n int, mode SprayMode) int {
	if n <= 0 {
		return 0
	}
	if mode == SprayLinear {
		return 1
	}
	return (n + 1) / 2
}
