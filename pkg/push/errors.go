package push

import "errors"

var (
	// ErrUninitialized means the coordinator was used before any channel
	// dispatcher was configured. Fatal to the call, not retried.
	ErrUninitialized = errors.New("delivery coordinator not initialized: no channel dispatchers configured")

	// ErrTemplateNotFound means the named template does not exist in the
	// template store. Fatal to template sends only.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrNotFound is returned by stores when a requested record is absent.
	ErrNotFound = errors.New("record not found")

	// ErrEmptyAddressList means a caller supplied an explicit address list
	// that was empty. A nil list means "resolve via the registry" and is fine.
	ErrEmptyAddressList = errors.New("explicit address list must not be empty")
)
