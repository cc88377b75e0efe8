//go:build !windows

package com

import (
	"encoding/json"
	"fmt"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// New 在非 Windows 平台不可用。
func New(raw json.RawMessage) (contract.Workbook, error) {
	return nil, fmt.Errorf("com workbook backend: %w on this platform", contract.ErrUnsupported)
}
