package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileCommand(t *testing.T) {
	root := RootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"profile", "--minions", "3", "--profile", "{type: immediate}"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Started")
}

func TestProfileCommand_RejectsInvalidProfiles(t *testing.T) {
	root := RootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"profile", "--profile", "{type: regular}"})

	assert.Error(t, root.Execute())
}
