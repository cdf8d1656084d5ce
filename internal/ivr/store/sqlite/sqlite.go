// Package sqlite implements the IVR stores on modernc.org/sqlite. All writes
// are funnelled through a db.Worker; reads use the shared *sql.DB.
package sqlite

import "github.com/tetrixcorps/compliantivr/internal/ivr/store"

var (
	_ store.AuditStore   = (*AuditStore)(nil)
	_ store.ConsentStore = (*ConsentStore)(nil)
	_ store.SessionStore = (*SessionStore)(nil)
	_ store.PolicyStore  = (*PolicyStore)(nil)
)
