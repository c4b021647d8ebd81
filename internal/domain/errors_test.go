package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError_MessageIncludesField(t *testing.T) {
	err := ConfigError{Field: "database_path", Message: "is required"}
	assert.Contains(t, err.Error(), "database_path")
	assert.Contains(t, err.Error(), "is required")
}

func TestAuthError_MessageIncludesPlatform(t *testing.T) {
	err := AuthError{Platform: PlatformMT5, Message: "bridge reports account not connected"}
	assert.Contains(t, err.Error(), "mt5")
}

func TestTransientIO_UnwrapsToUnderlyingError(t *testing.T) {
	cause := errors.New("connection refused")
	err := TransientIO{Platform: PlatformCTrader, Op: "dial", Err: cause}

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, fmt.Sprint(err), "ctrader")
	assert.Contains(t, fmt.Sprint(err), "dial")
}
