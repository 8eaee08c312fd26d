package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportsInvalidConfigOnce(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LIGHTCURVE_STORAGE_COMPRESSION_LEVEL", "9")

	err := run([]string{"--no-storage"})
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), "invalid configuration"), err.Error())
	assert.Contains(t, err.Error(), "compression level")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	assert.Error(t, run([]string{"--bogus"}))
}
