package repository

import "errors"

var (
	// ErrConflict reports a uniqueness violation on insert (existing id or
	// display id).
	ErrConflict = errors.New("conflicting record already exists")
	// ErrMissingReference reports an insert pointing at a row that does not
	// exist, such as a message by an unknown author.
	ErrMissingReference = errors.New("referenced record does not exist")
)
