// Package version handles language versioning for strategy scripts: semantic
// version parsing, compatibility classification, and migration of scripts
// written for older language releases.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/strataquant/dslengine/errs"
)

// Current is the language version this engine compiles and executes.
var Current = MustParse("1.2.0")

// Version is a semantic version triple.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// Parse reads a MAJOR.MINOR.PATCH string.
func Parse(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, errs.New("version", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("malformed version %q", s)))
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, errs.New("version", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("malformed version %q", s)))
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is Parse for statically known versions.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the triple.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 as v sorts before, equal to, or after other.
func (v Version) Compare(other Version) int {
	pairs := [3][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	}
	for _, p := range pairs {
		switch {
		case p[0] < p[1]:
			return -1
		case p[0] > p[1]:
			return 1
		}
	}
	return 0
}

// Equal reports exact equality.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// Before reports whether v sorts before other.
func (v Version) Before(other Version) bool { return v.Compare(other) < 0 }
