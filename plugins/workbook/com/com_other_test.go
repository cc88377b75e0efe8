//go:build !windows

package com

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

func TestUnsupportedOffWindows(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrUnsupported)
}
