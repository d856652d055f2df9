package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notectl/notectl/pkg/version"
)

func TestVersionCommand(t *testing.T) {
	origVersion := version.Version
	origGitCommit := version.GitCommit
	defer func() {
		version.Version = origVersion
		version.GitCommit = origGitCommit
	}()
	version.Version = "v1.2.3"
	version.GitCommit = "abc123"

	t.Run("default output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		root := NewRootCommand(RootConfig{OutputWriter: buf})
		root.SetArgs([]string{"version"})
		require.NoError(t, root.Execute())
		assert.Contains(t, buf.String(), "notectl v1.2.3")
		assert.Contains(t, buf.String(), "commit: abc123")
	})

	t.Run("json output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		root := NewRootCommand(RootConfig{OutputWriter: buf})
		root.SetArgs([]string{"version", "-o", "json"})
		require.NoError(t, root.Execute())

		var info version.BuildInfo
		require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
		assert.Equal(t, "v1.2.3", info.Version)
		assert.Equal(t, "abc123", info.GitCommit)
	})

	t.Run("yaml output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		root := NewRootCommand(RootConfig{OutputWriter: buf})
		root.SetArgs([]string{"version", "-o", "yaml"})
		require.NoError(t, root.Execute())
		assert.Contains(t, buf.String(), "version: v1.2.3")
	})
}
