// Package objectkey derives the bucket-relative paths uploaded images are stored under.
package objectkey

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Root is the top-level prefix every key lives under.
const Root = "files"

// ErrInvalidUserID is returned for an empty user id.
var ErrInvalidUserID = errors.New("userId is required")

// Key is a bucket-relative object path: files/<userId>/imgs/<uniqueId>.<ext>.
type Key struct {
	Path string
}

func (k Key) String() string { return k.Path }

// Build assembles a key from its parts. userID is used verbatim.
func Build(userID, uniqueID, extension string) (Key, error) {
	if userID == "" {
		return Key{}, ErrInvalidUserID
	}
	return Key{Path: fmt.Sprintf("%s/%s/imgs/%s.%s", Root, userID, uniqueID, extension)}, nil
}

// Generator builds keys with a fresh unique id per call.
type Generator struct {
	newID func() string
}

// NewGenerator returns a Generator backed by random (version 4) UUIDs.
func NewGenerator() *Generator {
	return &Generator{newID: func() string { return uuid.NewString() }}
}

// NewGeneratorWithIDs returns a Generator that takes ids from newID. Tests use
// it for deterministic keys.
func NewGeneratorWithIDs(newID func() string) *Generator {
	return &Generator{newID: newID}
}

// Generate returns a new key for userID with the given extension.
func (g *Generator) Generate(userID, extension string) (Key, error) {
	if userID == "" {
		return Key{}, ErrInvalidUserID
	}
	return Build(userID, g.newID(), extension)
}
