// Package manifest handles MCPB bundle containers: extracting the
// manifest from an uploaded zip, normalizing its loosely-specified JSON
// shapes into a strict internal type, and validating it.
package manifest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

// ManifestFilename is the well-known manifest location inside a bundle.
const ManifestFilename = "manifest.json"

// maxManifestSize bounds how much of the archive entry is read. A
// manifest larger than this is malformed by definition.
const maxManifestSize = 1 << 20

// ExtractFromBundle opens the uploaded bundle as a zip archive and
// returns the raw manifest.json bytes. The manifest must live at the
// archive root. All failures map to ErrBadRequest: a malformed
// container is always the caller's mistake.
func ExtractFromBundle(bundle []byte) (json.RawMessage, error) {
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		return nil, fmt.Errorf("%w: bundle is not a valid zip archive", domain.ErrBadRequest)
	}

	for _, f := range zr.File {
		if path.Clean(f.Name) != ManifestFilename {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot open %s: %v", domain.ErrBadRequest, ManifestFilename, err)
		}
		defer func() { _ = rc.Close() }()

		raw, err := io.ReadAll(io.LimitReader(rc, maxManifestSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: cannot read %s: %v", domain.ErrBadRequest, ManifestFilename, err)
		}
		if len(raw) > maxManifestSize {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrBadRequest, ManifestFilename, maxManifestSize)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: %s is not valid JSON", domain.ErrBadRequest, ManifestFilename)
		}
		return raw, nil
	}

	return nil, fmt.Errorf("%w: bundle has no %s at its root", domain.ErrBadRequest, ManifestFilename)
}
