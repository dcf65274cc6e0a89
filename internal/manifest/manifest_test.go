package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = "Manifest-Version: 1.0\r\n" +
	"Bundle-ManifestVersion: 2\r\n" +
	"Bundle-SymbolicName: org.eclipse.ui.ide;singleton:=true\r\n" +
	"Bundle-Version: 3.10.100.v20140904-1705\r\n" +
	"Require-Bundle: org.eclipse.core.resources;bundle-version=\"[3.3.0,4.0.0\r\n" +
	" )\",org.eclipse.help;bundle-version=\"[3.2.0,4.0.0)\",org.eclipse.ui;b\r\n" +
	" undle-version=\"[3.5.0,4.0.0)\",org.eclipse.update.configurator;bundle-ve\r\n" +
	" rsion=\"[3.1.0,4.0.0)\";resolution:=optional\r\n" +
	"\r\n" +
	"Name: plugin.xml\r\n" +
	"SHA1-Digest: abc\r\n"

func TestParseJoinsContinuationLines(t *testing.T) {
	attrs, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	name, ok := attrs.Get("bundle-symbolicname")
	require.True(t, ok)
	assert.Equal(t, "org.eclipse.ui.ide;singleton:=true", name)

	req, ok := attrs.Get(RequireBundle)
	require.True(t, ok)
	assert.Contains(t, req, "org.eclipse.ui;bundle-version=\"[3.5.0,4.0.0)\"")

	// Per-entry sections after the first blank line are ignored.
	_, ok = attrs.Get("SHA1-Digest")
	assert.False(t, ok)
}

func TestParseHonoursByteOrderMark(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})
	buf.WriteString("Bundle-SymbolicName: a.b\nBundle-Version: 1.0.0\n")

	md, err := ParseMetadata(&buf)
	require.NoError(t, err)
	assert.Equal(t, "a.b", md.SymbolicName)
	assert.Equal(t, "1.0.0", md.Version)
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("Bundle-SymbolicName a.b\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(" leading continuation\n"))
	assert.Error(t, err)
}

func TestMetadataFrom(t *testing.T) {
	md, err := ParseMetadata(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "org.eclipse.ui.ide", md.SymbolicName)
	assert.Equal(t, "3.10.100.v20140904-1705", md.Version)
	// update.configurator is optional: its range tail carries the marker.
	assert.Equal(t, []string{
		"org.eclipse.core.resources",
		"org.eclipse.help",
		"org.eclipse.ui",
	}, md.Requires)
}

func TestMetadataWithoutRequireBundleHasEmptyList(t *testing.T) {
	md, err := ParseMetadata(strings.NewReader("Bundle-SymbolicName: a.b\nBundle-Version: 1\n"))
	require.NoError(t, err)
	require.NotNil(t, md.Requires)
	assert.Empty(t, md.Requires)
}

func TestMetadataMissingAttributes(t *testing.T) {
	_, err := ParseMetadata(strings.NewReader("Bundle-Version: 1.0.0\n"))
	assert.ErrorIs(t, err, ErrMissingSymbolicName)

	_, err = ParseMetadata(strings.NewReader("Bundle-SymbolicName: a.b\n"))
	assert.ErrorIs(t, err, ErrMissingVersion)
}

func TestRequiredBundles(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{
			name:  "optional directive removes previous identifier",
			value: "a.b;bundle-version=1.0.0,1.0.0(resolution:=optional),c.d",
			want:  []string{"c.d"},
		},
		{
			name:  "quoted range without optional marker",
			value: `a.b;bundle-version="[1.0.0,2.0.0)",c.d`,
			want:  []string{"a.b", "c.d"},
		},
		{
			name:  "range split keeps optional marker on second half",
			value: `a.b;bundle-version="[1.0.0,2.0.0)";resolution:=optional,c.d`,
			want:  []string{"c.d"},
		},
		{
			name:  "repeated optional directive is idempotent",
			value: "a.b,1.0(resolution:=optional),2.0(resolution:=optional),c.d",
			want:  []string{"c.d"},
		},
		{
			name:  "whitespace inside identifiers is removed",
			value: " org.eclipse. core.runtime ; visibility:=reexport ,\n org.eclipse.ui",
			want:  []string{"org.eclipse.core.runtime", "org.eclipse.ui"},
		},
		{
			name:  "optional directive before any identifier",
			value: "1.0(resolution:=optional),a.b",
			want:  []string{"a.b"},
		},
		{
			name:  "empty value",
			value: "",
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RequiredBundles(tt.value))
		})
	}
}

func TestRequiredBundlesNeverKeepsOptionalIdentifier(t *testing.T) {
	ids := []string{"x.y", "org.a", "org.b.c", "z"}
	for _, id := range ids {
		value := "head," + id + `;bundle-version="[1.0,2.0)";resolution:=optional,tail`
		got := RequiredBundles(value)
		assert.NotContains(t, got, id, "value %q", value)
		assert.Equal(t, []string{"head", "tail"}, got)
	}
}
