package videostate

import "errors"

// ErrStateNotFound signals that no one has controlled this video yet. It is
// not a failure: callers must treat it as "nothing to sync".
var ErrStateNotFound = errors.New("video state not found")
