package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOrDefaultFallsBackWhenUnset(t *testing.T) {
	const key = "ACQGATEWAY_TEST_ENV_OR_DEFAULT"
	os.Unsetenv(key)

	assert.Equal(t, "fallback", envOrDefault(key, "fallback"))

	t.Setenv(key, "override")
	assert.Equal(t, "override", envOrDefault(key, "fallback"))
}

func TestEnvIntOrDefaultFallsBackOnMissingOrInvalid(t *testing.T) {
	const key = "ACQGATEWAY_TEST_ENV_INT"
	os.Unsetenv(key)

	assert.Equal(t, 42, envIntOrDefault(key, 42))

	t.Setenv(key, "not-a-number")
	assert.Equal(t, 42, envIntOrDefault(key, 42))

	t.Setenv(key, "99")
	assert.Equal(t, 99, envIntOrDefault(key, 42))
}
