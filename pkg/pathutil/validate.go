// Package pathutil provides path and name validation utilities for gridlink.
package pathutil

import (
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/gridlink-project/gridlink/pkg/errclass"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._@-]+$`)

// ValidateName checks user and zone names.
func ValidateName(name string) error {
	if name == "" {
		return errclass.ErrInvalidArgument.WithMessage("name must not be empty")
	}

	name = norm.NFC.String(name)

	if name == "." || name == ".." {
		return errclass.ErrInvalidArgument.WithMessagef("name must not be a dot segment: %s", name)
	}

	if strings.ContainsAny(name, "/\\#") {
		return errclass.ErrInvalidArgument.WithMessagef("name must not contain separators: %s", name)
	}

	if err := rejectControl(name); err != nil {
		return err
	}

	if !nameRegex.MatchString(name) {
		return errclass.ErrInvalidArgument.WithMessagef("name must match [a-zA-Z0-9._@-]+: %s", name)
	}

	return nil
}

// ValidateRemotePath checks an absolute grid path such as /tempZone/home/rods/a.dat.
func ValidateRemotePath(p string) error {
	if p == "" {
		return errclass.ErrInvalidArgument.WithMessage("remote path must not be empty")
	}
	if !strings.HasPrefix(p, "/") {
		return errclass.ErrInvalidArgument.WithMessagef("remote path must be absolute: %s", p)
	}
	if err := rejectControl(p); err != nil {
		return err
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == ".." {
			return errclass.ErrInvalidArgument.WithMessagef("remote path must not contain '..': %s", p)
		}
	}
	return nil
}

// NormalizeRemotePath NFC-normalizes and cleans a remote path, so two spellings
// of one object map to the same restart identifier.
func NormalizeRemotePath(p string) string {
	return path.Clean(norm.NFC.String(p))
}

// ValidateLocalPath checks the local side of a transfer.
func ValidateLocalPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errclass.ErrInvalidArgument.WithMessage("local path must not be empty")
	}
	return rejectControl(p)
}

func rejectControl(s string) error {
	for _, r := range s {
		if unicode.IsControl(r) {
			return errclass.ErrInvalidArgument.WithMessagef("must not contain control characters: %q", s)
		}
	}
	return nil
}
