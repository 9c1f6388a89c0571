package pathutil_test

import (
	"testing"

	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName_Valid(t *testing.T) {
	valid := []string{"rods", "tempZone", "alice.smith", "svc-account", "user@example.org"}
	for _, name := range valid {
		assert.NoError(t, pathutil.ValidateName(name), "should accept: %s", name)
	}
}

func TestValidateName_Invalid(t *testing.T) {
	for _, name := range []string{"", "..", "a/b", "a\\b", "user#zone", "hello\x00world", "sp ace"} {
		err := pathutil.ValidateName(name)
		require.ErrorIs(t, err, errclass.ErrInvalidArgument, "should reject: %q", name)
	}
}

func TestValidateRemotePath_Valid(t *testing.T) {
	for _, p := range []string{"/", "/tempZone/home/rods/a.dat", "/z/with space/file"} {
		assert.NoError(t, pathutil.ValidateRemotePath(p), "should accept: %s", p)
	}
}

func TestValidateRemotePath_Invalid(t *testing.T) {
	for _, p := range []string{"", "relative/path", "/zone/../etc", "/zone/a\nb"} {
		err := pathutil.ValidateRemotePath(p)
		require.ErrorIs(t, err, errclass.ErrInvalidArgument, "should reject: %q", p)
	}
}

func TestNormalizeRemotePath(t *testing.T) {
	assert.Equal(t, "/zone/home/a.dat", pathutil.NormalizeRemotePath("/zone//home/./a.dat"))
	assert.Equal(t, "/zone/home", pathutil.NormalizeRemotePath("/zone/home/"))

	// Decomposed e + combining acute normalizes to the precomposed form.
	assert.Equal(t, "/zone/caf\u00e9", pathutil.NormalizeRemotePath("/zone/cafe\u0301"))
}

func TestValidateLocalPath(t *testing.T) {
	assert.NoError(t, pathutil.ValidateLocalPath("/tmp/a.dat"))
	require.ErrorIs(t, pathutil.ValidateLocalPath(""), errclass.ErrInvalidArgument)
	require.ErrorIs(t, pathutil.ValidateLocalPath("   "), errclass.ErrInvalidArgument)
}
