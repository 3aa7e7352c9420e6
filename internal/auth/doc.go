// Package auth defines the authentication contract used by the lock and
// provides the default backend.
//
// The backend checks a password against /etc/shadow, falling back to su(1)
// behind a pseudo-terminal for hash formats it cannot verify itself. It runs
// in a separate helper process (see Helper and RunHelper) so that a hang or
// crash in the check cannot take the locking process with it.
package auth
