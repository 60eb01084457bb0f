package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status    string
		valid     bool
		terminal  bool
		retryable bool
	}{
		{StatusPending, true, false, false},
		{StatusSuccess, true, true, false},
		{StatusInsufficientAmount, true, true, true},
		{StatusSourceValidationFailed, true, true, false},
		{StatusTransferToMintFailed, true, true, true},
		{StatusMintGrantFailed, true, true, false},
		{StatusProvisionFailed, true, true, false},
		{"", false, false, false},
		{"confirmed", false, false, false}, // 旧系统遗留值，不在封闭集合内
	}

	for _, tc := range cases {
		assert.Equal(t, tc.valid, IsValidStatus(tc.status), "IsValidStatus(%q)", tc.status)
		assert.Equal(t, tc.terminal, IsTerminalStatus(tc.status), "IsTerminalStatus(%q)", tc.status)
		assert.Equal(t, tc.retryable, IsRetryableStatus(tc.status), "IsRetryableStatus(%q)", tc.status)
	}
}
