// Package memory provides in-memory store implementations for tests, dev
// runs and IVR_STORE=memory.
package memory

import "github.com/tetrixcorps/compliantivr/internal/ivr/store"

var (
	_ store.AuditStore   = (*AuditStore)(nil)
	_ store.ConsentStore = (*ConsentStore)(nil)
	_ store.SessionStore = (*SessionStore)(nil)
	_ store.PolicyStore  = (*PolicyStore)(nil)
	_ store.FlowStore    = (*FlowStore)(nil)
)
