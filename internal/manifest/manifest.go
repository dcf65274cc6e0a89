// Package manifest reads OSGi bundle manifests (META-INF/MANIFEST.MF).
//
// Only the main section is read. Attribute names are matched
// case-insensitively, continuation lines (a single leading space) are joined
// to the previous value, and a UTF-8 or UTF-16 byte-order mark is honoured.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Recognized main-section attributes.
const (
	BundleSymbolicName = "Bundle-SymbolicName"
	BundleVersion      = "Bundle-Version"
	RequireBundle      = "Require-Bundle"
)

// optionalMarker flags a Require-Bundle entry that must not constrain
// variant composition.
const optionalMarker = "resolution:=optional"

var (
	ErrMissingSymbolicName = errors.New("manifest: missing " + BundleSymbolicName)
	ErrMissingVersion      = errors.New("manifest: missing " + BundleVersion)
)

// directiveToken matches Require-Bundle tokens that qualify the previous
// identifier instead of naming a bundle, e.g. `1.0.0(resolution:=optional)`
// left over after splitting a quoted version range on ','.
var directiveToken = regexp.MustCompile(`^\s*[0-9]`)

// Attributes holds the main-section attributes of a manifest.
type Attributes map[string]string

// Get returns the value of name, matched case-insensitively.
func (a Attributes) Get(name string) (string, bool) {
	v, ok := a[strings.ToLower(name)]
	return v, ok
}

// Metadata is the identity and hard dependency list of one bundle.
type Metadata struct {
	SymbolicName string
	Version      string
	// Requires is never nil; optional requirements are already removed.
	Requires []string
}

// Parse reads the main section of a manifest from r.
func Parse(r io.Reader) (Attributes, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	sc := bufio.NewScanner(decoded)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	attrs := make(Attributes)
	var key string
	var value strings.Builder
	flush := func() {
		if key != "" {
			attrs[strings.ToLower(key)] = value.String()
		}
		key = ""
		value.Reset()
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			// End of the main section.
			break
		}
		if strings.HasPrefix(line, " ") {
			if key == "" {
				return nil, fmt.Errorf("manifest: continuation line without attribute: %q", line)
			}
			value.WriteString(line[1:])
			continue
		}
		flush()
		name, val, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("manifest: malformed attribute line: %q", line)
		}
		key = strings.TrimSpace(name)
		value.WriteString(strings.TrimPrefix(val, " "))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}
	flush()
	return attrs, nil
}

// ParseMetadata reads a manifest and extracts bundle identity and hard
// dependencies.
func ParseMetadata(r io.Reader) (Metadata, error) {
	attrs, err := Parse(r)
	if err != nil {
		return Metadata{}, err
	}
	return MetadataFrom(attrs)
}

// MetadataFrom extracts bundle identity and hard dependencies from parsed
// attributes. The symbolic name is cut at its first ';' (directives such as
// singleton:=true are discarded).
func MetadataFrom(attrs Attributes) (Metadata, error) {
	name, ok := attrs.Get(BundleSymbolicName)
	if !ok || strings.TrimSpace(name) == "" {
		return Metadata{}, ErrMissingSymbolicName
	}
	if i := strings.IndexByte(name, ';'); i != -1 {
		name = name[:i]
	}
	version, ok := attrs.Get(BundleVersion)
	if !ok {
		return Metadata{}, ErrMissingVersion
	}
	md := Metadata{
		SymbolicName: strings.TrimSpace(name),
		Version:      version,
		Requires:     []string{},
	}
	if req, ok := attrs.Get(RequireBundle); ok {
		md.Requires = RequiredBundles(req)
	}
	return md, nil
}

// RequiredBundles extracts the hard bundle requirements from a Require-Bundle
// value.
//
// Tokens are processed left to right with a cursor on the last identifier.
// An identifier token loses everything from its first ';' and all
// whitespace, is appended, and becomes the cursor. A directive token (one
// starting with a digit) that carries resolution:=optional removes the
// cursor from the list; removing an absent entry is a no-op.
func RequiredBundles(value string) []string {
	out := []string{}
	previous := ""
	for _, tok := range strings.Split(value, ",") {
		if !directiveToken.MatchString(tok) {
			if i := strings.IndexByte(tok, ';'); i != -1 {
				tok = tok[:i]
			}
			tok = strings.Join(strings.Fields(tok), "")
			if tok == "" {
				continue
			}
			previous = tok
			out = append(out, tok)
			continue
		}
		if strings.Contains(tok, optionalMarker) {
			out = remove(out, previous)
		}
	}
	return out
}

// remove drops every occurrence of id from list.
func remove(list []string, id string) []string {
	kept := list[:0]
	for _, v := range list {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}
