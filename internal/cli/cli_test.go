package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullArguments(t *testing.T) {
	var out bytes.Buffer
	opts, exit, err := Parse([]string{
		"-config", "service.hcl",
		"-project", "p1",
		"-documents", "d1, d2,,d3",
		"-healthcheck-port", "8080",
		"-log-format", "JSON",
		"-log-level", "DEBUG",
		"-mock",
		"-pause-for-inspection",
	}, &out)

	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "service.hcl", opts.ConfigPath)
	assert.Equal(t, "p1", opts.ProjectID)
	assert.Equal(t, []string{"d1", "d2", "d3"}, opts.DocumentIDs)
	assert.Equal(t, 8080, opts.HealthcheckPort)
	assert.Equal(t, "json", opts.LogFormat)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.True(t, opts.MockMode)
	assert.True(t, opts.PauseForReview)
}

func TestParseNoProjectPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	opts, exit, err := Parse([]string{"-documents", "d1"}, &out)

	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, opts)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParseNoDocumentsFails(t *testing.T) {
	var out bytes.Buffer
	_, exit, err := Parse([]string{"-project", "p1"}, &out)

	require.Error(t, err)
	assert.False(t, exit)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParseInvalidLogFormat(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-project", "p1", "-documents", "d1", "-log-format", "xml"}, &out)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, exitErr.Message, "log-format")
}

func TestParseInvalidLogLevel(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"-project", "p1", "-documents", "d1", "-log-level", "verbose"}, &out)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, exitErr.Message, "log-level")
}

func TestParseHelpExitsCleanly(t *testing.T) {
	var out bytes.Buffer
	opts, exit, err := Parse([]string{"-h"}, &out)

	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, opts)
}
