package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

// Manifest is the strict internal manifest shape. Every tolerance for
// the wire format's optional or duck-typed fields lives in Normalize;
// the rest of the system only ever sees this type.
type Manifest struct {
	Name        string
	Version     string
	ServerType  string
	Description string
	License     string
	Author      string
	IconURL     string
	Repository  string // owner/repo URL or shorthand, empty if undeclared

	// Raw is the original manifest document, stored verbatim with the
	// version row.
	Raw json.RawMessage
}

// wireManifest matches the shapes bundles actually ship. Fields that
// appear in more than one place (server type, repository, author) are
// captured in all their variants and reconciled afterwards.
type wireManifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	License     string          `json:"license"`
	Icon        string          `json:"icon"`
	ServerType  string          `json:"server_type"`
	Server      json.RawMessage `json:"server"`
	Author      json.RawMessage `json:"author"`
	Repository  json.RawMessage `json:"repository"`
}

// Normalize parses raw manifest bytes into the strict internal type.
// It tolerates server.type vs server_type, repository as a string vs an
// object with a url field, and author as a string vs an object with a
// name field. Unparseable JSON is a bad request.
func Normalize(raw json.RawMessage) (Manifest, error) {
	var w wireManifest
	if err := json.Unmarshal(raw, &w); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest is not a JSON object: %v", domain.ErrBadRequest, err)
	}

	m := Manifest{
		Name:        w.Name,
		Version:     w.Version,
		ServerType:  w.ServerType,
		Description: w.Description,
		License:     w.License,
		IconURL:     w.Icon,
		Raw:         raw,
	}

	// server.type wins over the flat server_type when both are present.
	if len(w.Server) > 0 {
		var server struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(w.Server, &server); err == nil && server.Type != "" {
			m.ServerType = server.Type
		}
	}

	if len(w.Repository) > 0 {
		m.Repository = stringOrField(w.Repository, "url")
	}
	if len(w.Author) > 0 {
		m.Author = stringOrField(w.Author, "name")
	}

	return m, nil
}

// stringOrField decodes a value that is either a bare JSON string or an
// object carrying the string under the given key. Anything else yields
// the empty string.
func stringOrField(raw json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if v, ok := obj[key]; ok {
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return ""
}
