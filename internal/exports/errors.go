package exports

import "errors"

var ErrNotFound = errors.New("export not found")
