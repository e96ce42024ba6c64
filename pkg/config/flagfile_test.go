package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var overlayTestFlag = flag.String("config_overlay_test_value", "default", "Test-only flag.")

func TestApplyFlagFile(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, flag.Set("config_overlay_test_value", "default")) })

	path := filepath.Join(t.TempDir(), "flags.conf")
	content := "# A comment followed by a blank line.\n\n" +
		"config_overlay_test_value = from-file\n" +
		"line without an equals sign\n" +
		"no_such_flag=ignored\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	applyFlagFile(path)
	assert.Equal(t, "from-file", *overlayTestFlag)
}

func TestApplyFlagFile_MissingFile(t *testing.T) {
	// A missing file must be tolerated and leave flags untouched.
	applyFlagFile(filepath.Join(t.TempDir(), "absent.conf"))
	assert.Equal(t, "default", *overlayTestFlag)
}
