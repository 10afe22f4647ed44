package realtime

import "errors"

var errMissingToken = errors.New("missing token")
