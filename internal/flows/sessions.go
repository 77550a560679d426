package flows

import (
	"context"

	"github.com/MrEthical07/authcore/ledger"
)

// SessionsResult lists the live families of one subject.
type SessionsResult struct {
	Failure  FailureKind
	Err      error
	Sessions []ledger.Entry
}

// RunListSessions returns the live families of subjectID, oldest first.
func RunListSessions(ctx context.Context, subjectID string, deps Deps) SessionsResult {
	sctx, cancel := deps.storeContext(ctx)
	defer cancel()
	entries, err := deps.Ledger.ListSubject(sctx, subjectID, deps.Now())
	if err != nil {
		return SessionsResult{Failure: FailureLedgerUnavailable, Err: err}
	}
	return SessionsResult{Sessions: entries}
}
