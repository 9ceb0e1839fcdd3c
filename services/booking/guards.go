package booking

import "sync"

// guardSet holds the flow's mutual-exclusion flags. Each flag guards one
// non-reentrant user action; acquire callers must release on every exit
// path or the action locks out permanently.
type guardSet struct {
	mu sync.Mutex

	booking         bool
	confirming      bool
	creatingPayment bool
	selectingSlot   bool
}

// acquire takes the flag if it is not held. flag must be a field of this
// guardSet.
func (g *guardSet) acquire(flag *bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (g *guardSet) release(flag *bool) {
	g.mu.Lock()
	*flag = false
	g.mu.Unlock()
}
