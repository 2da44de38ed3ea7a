package core

import "errors"

var (
	// ErrRoomFull refuses a third connection; membership is unchanged.
	ErrRoomFull = errors.New("room already has two occupants")

	// errRoomClosed is returned when an add races with the teardown of
	// an emptied room; callers retry against a fresh room instance.
	errRoomClosed = errors.New("room is closed")
)
