// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blunder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestErrno(t *testing.T) {
	var (
		err error
	)

	assert.Equal(t, unix.Errno(0), Errno(nil))

	err = NewError(unix.ENOENT, "no such entry %q", "foo")
	assert.Equal(t, unix.ENOENT, Errno(err))
	assert.True(t, Is(err, unix.ENOENT))
	assert.False(t, Is(err, unix.EEXIST))
	assert.Contains(t, err.Error(), "no such entry \"foo\"")

	err = AddError(err, unix.ESTALE)
	assert.Equal(t, unix.ESTALE, Errno(err))

	assert.Equal(t, unix.EIO, Errno(fmt.Errorf("plain error")))
	assert.Equal(t, unix.EPERM, Errno(fmt.Errorf("wrapped: %w", unix.EPERM)))

	assert.Nil(t, AddError(nil, unix.EINVAL))
	assert.False(t, Is(nil, unix.EINVAL))
}
