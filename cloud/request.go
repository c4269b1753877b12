package cloud

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ConvertRequest asks the service to convert an input file into a named pyramid
type ConvertRequest struct {
	// Input is a local path or an http(s) URL
	Input string `json:"input"`
	// Name is the pyramid directory under the output root; defaults to the input's base name
	Name string `json:"name,omitempty"`
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Normalize fills in the name from the input and validates the request
func (r ConvertRequest) Normalize() (ConvertRequest, error) {
	r.Input = strings.TrimSpace(r.Input)
	if r.Input == "" {
		return r, fmt.Errorf("%w: input is required", ErrInvalidInput)
	}
	if r.Name == "" {
		base := r.Input
		if i := strings.IndexAny(base, "?#"); i >= 0 && IsRemote(base) {
			base = base[:i]
		}
		base = filepath.Base(filepath.FromSlash(base))
		r.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if !validName.MatchString(r.Name) || strings.Contains(r.Name, "..") {
		return r, fmt.Errorf("%w: invalid pyramid name %q", ErrInvalidInput, r.Name)
	}
	return r, nil
}

// Destination returns the pyramid directory for the request under root
func (r ConvertRequest) Destination(root string) string {
	return filepath.Join(root, r.Name)
}
