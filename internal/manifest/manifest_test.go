package manifest

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

// makeBundle builds an in-memory zip with the given files.
func makeBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractFromBundle(t *testing.T) {
	manifest := `{"name":"@alice/tool","version":"1.0.0","server":{"type":"python"}}`
	bundle := makeBundle(t, map[string]string{
		"manifest.json": manifest,
		"src/server.py": "print('hi')",
	})

	raw, err := ExtractFromBundle(bundle)
	require.NoError(t, err)
	require.JSONEq(t, manifest, string(raw))
}

func TestExtractFromBundle_NotZip(t *testing.T) {
	_, err := ExtractFromBundle([]byte("definitely not a zip"))
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestExtractFromBundle_MissingManifest(t *testing.T) {
	bundle := makeBundle(t, map[string]string{"src/server.py": "print('hi')"})
	_, err := ExtractFromBundle(bundle)
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestExtractFromBundle_NestedManifestIgnored(t *testing.T) {
	bundle := makeBundle(t, map[string]string{
		"sub/manifest.json": `{"name":"@alice/tool"}`,
	})
	_, err := ExtractFromBundle(bundle)
	require.ErrorIs(t, err, domain.ErrBadRequest, "manifest must live at the archive root")
}

func TestExtractFromBundle_InvalidJSON(t *testing.T) {
	bundle := makeBundle(t, map[string]string{"manifest.json": "{not json"})
	_, err := ExtractFromBundle(bundle)
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestNormalize_NestedShapes(t *testing.T) {
	raw := []byte(`{
		"name": "@alice/tool",
		"version": "1.0.0",
		"description": "a tool",
		"license": "MIT",
		"server": {"type": "python", "entry_point": "src/server.py"},
		"author": {"name": "Alice", "email": "alice@example.com"},
		"repository": {"type": "git", "url": "https://github.com/alice/tool"}
	}`)

	m, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "@alice/tool", m.Name)
	require.Equal(t, "1.0.0", m.Version)
	require.Equal(t, "python", m.ServerType)
	require.Equal(t, "Alice", m.Author)
	require.Equal(t, "https://github.com/alice/tool", m.Repository)
	require.JSONEq(t, string(raw), string(m.Raw))
}

func TestNormalize_FlatShapes(t *testing.T) {
	raw := []byte(`{
		"name": "@alice/tool",
		"version": "2.1.0",
		"server_type": "node",
		"author": "Alice",
		"repository": "https://github.com/alice/tool"
	}`)

	m, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "node", m.ServerType)
	require.Equal(t, "Alice", m.Author)
	require.Equal(t, "https://github.com/alice/tool", m.Repository)
}

func TestNormalize_NestedServerTypeWins(t *testing.T) {
	raw := []byte(`{"name":"@a/b","version":"1.0.0","server_type":"node","server":{"type":"python"}}`)
	m, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "python", m.ServerType)
}

func TestNormalize_NotAnObject(t *testing.T) {
	_, err := Normalize([]byte(`[1,2,3]`))
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()

	tests := []struct {
		name    string
		m       Manifest
		valid   bool
		errPart string
	}{
		{
			name:  "valid",
			m:     Manifest{Name: "@alice/tool", Version: "1.0.0", ServerType: "python"},
			valid: true,
		},
		{
			name:    "missing name",
			m:       Manifest{Version: "1.0.0", ServerType: "python"},
			errPart: "name is required",
		},
		{
			name:    "missing version",
			m:       Manifest{Name: "@alice/tool", ServerType: "python"},
			errPart: "version is required",
		},
		{
			name:    "bad version",
			m:       Manifest{Name: "@alice/tool", Version: "one", ServerType: "python"},
			errPart: "semantic version",
		},
		{
			name:    "bad server type",
			m:       Manifest{Name: "@alice/tool", Version: "1.0.0", ServerType: "cobol"},
			errPart: "server type",
		},
		{
			name:    "missing server type",
			m:       Manifest{Name: "@alice/tool", Version: "1.0.0"},
			errPart: "server type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.m)
			require.Equal(t, tt.valid, res.Valid)
			if tt.errPart != "" {
				require.NotEmpty(t, res.Errors)
				found := false
				for _, e := range res.Errors {
					if bytes.Contains([]byte(e), []byte(tt.errPart)) {
						found = true
					}
				}
				require.True(t, found, "expected an error containing %q, got %v", tt.errPart, res.Errors)
			}
		})
	}
}

func TestSchemaValidator_CollectsAllErrors(t *testing.T) {
	res := NewSchemaValidator().Validate(Manifest{})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 3)
}

func TestNormalize_PrereleaseVersion(t *testing.T) {
	m := Manifest{Name: "@a/b", Version: "1.0.0-rc.1+build.5", ServerType: "binary"}
	require.True(t, NewSchemaValidator().Validate(m).Valid)
}
