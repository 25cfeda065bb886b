package poller

import (
	"errors"
)

var (
	ErrMissingDependency = errors.New("missing poller dependency")
	errClosing           = errors.New("error closing")
	errPublish           = errors.New("publish failed")
)

// errorKindPublish marks a fetch that succeeded but whose record could not be written.
const errorKindPublish = "publish"
