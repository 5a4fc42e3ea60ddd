// Package datasync bridges the gateway and the view-model store. Each sync
// type covers one view concern: the signed-in profile, the conversation
// list, one conversation's live message log, the user directory. Lifetimes
// are explicit - whatever opens a message stream must close it, or the
// subscription leaks.
package datasync

import "errors"

// ErrProfileNotFound signals that authentication succeeded but no profile
// row exists yet: the caller should route to profile setup, not show an
// error.
var ErrProfileNotFound = errors.New("datasync: profile not found")
