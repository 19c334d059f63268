// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides errors that carry a POSIX errno alongside the
// usual message and stack context.
//
// Every failure surfaced by the client API is a blunder error (or wraps
// one) so that callers can recover the errno with Errno() much like C
// callers would consult errno after a -1 return. Errors not created here
// report EIO.
//
package blunder

import (
	"errors"
	"syscall"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

const errnoKey = "blunder.errno"

// NewError returns an error carrying errno with a formatted message.
//
func NewError(errno syscall.Errno, format string, args ...interface{}) (err error) {
	err = merry.Errorf(format, args...).WithValue(errnoKey, errno)
	return
}

// AddError attaches (or replaces) the errno carried by err.
//
func AddError(err error, errno syscall.Errno) error {
	if nil == err {
		return nil
	}

	return merry.Wrap(err).WithValue(errnoKey, errno)
}

// Errno returns the errno carried by err, 0 for a nil err, and EIO for
// errors that never had one attached.
//
func Errno(err error) (errno syscall.Errno) {
	var (
		ok    bool
		value interface{}
	)

	if nil == err {
		errno = 0
		return
	}

	value = merry.Value(err, errnoKey)
	if nil != value {
		errno, ok = value.(syscall.Errno)
		if ok {
			return
		}
	}

	if errors.As(err, &errno) {
		return
	}

	errno = unix.EIO
	return
}

// Is reports whether err carries errno.
//
func Is(err error, errno syscall.Errno) bool {
	if nil == err {
		return false
	}

	return Errno(err) == errno
}

// Details returns the message of err along with its captured stack.
//
func Details(err error) string {
	return merry.Details(err)
}
