package sqlite

import (
	"encoding/json"
	"time"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

// Row models map directly to SQL columns, with Unix timestamps for time
// values and pointers for nullable columns.

type packageModel struct {
	ID             int64
	Name           string
	Description    string
	License        string
	IconURL        string
	Author         string
	LatestVersion  string
	ClaimedBy      *string
	ClaimedAt      *int64
	GitHubRepo     *string
	Stars          int
	Forks          int
	Watchers       int
	StatsUpdatedAt *int64
	Downloads      int64
	CreatedAt      int64
	UpdatedAt      int64
}

func (m *packageModel) toDomain() *domain.Package {
	p := &domain.Package{
		ID:            m.ID,
		Name:          m.Name,
		Description:   m.Description,
		License:       m.License,
		IconURL:       m.IconURL,
		Author:        m.Author,
		LatestVersion: m.LatestVersion,
		ClaimedBy:     m.ClaimedBy,
		GitHubRepo:    m.GitHubRepo,
		Stars:         m.Stars,
		Forks:         m.Forks,
		Watchers:      m.Watchers,
		Downloads:     m.Downloads,
		CreatedAt:     time.Unix(m.CreatedAt, 0),
		UpdatedAt:     time.Unix(m.UpdatedAt, 0),
	}
	if m.ClaimedAt != nil {
		t := time.Unix(*m.ClaimedAt, 0)
		p.ClaimedAt = &t
	}
	if m.StatsUpdatedAt != nil {
		t := time.Unix(*m.StatsUpdatedAt, 0)
		p.StatsUpdatedAt = &t
	}
	return p
}

type versionModel struct {
	ID            int64
	PackageID     int64
	Version       string
	Manifest      string
	PublisherID   string
	PublishMethod string
	Provenance    *string
	Downloads     int64
	CreatedAt     int64
}

func (m *versionModel) toDomain() *domain.PackageVersion {
	v := &domain.PackageVersion{
		ID:            m.ID,
		PackageID:     m.PackageID,
		Version:       m.Version,
		Manifest:      json.RawMessage(m.Manifest),
		PublisherID:   m.PublisherID,
		PublishMethod: domain.PublishMethod(m.PublishMethod),
		Downloads:     m.Downloads,
		CreatedAt:     time.Unix(m.CreatedAt, 0),
	}
	if m.Provenance != nil {
		v.Provenance = json.RawMessage(*m.Provenance)
	}
	return v
}

type artifactModel struct {
	ID          int64
	VersionID   int64
	OS          string
	Arch        string
	Digest      string
	SizeBytes   int64
	StoragePath string
	Downloads   int64
	CreatedAt   int64
}

func (m *artifactModel) toDomain() *domain.Artifact {
	return &domain.Artifact{
		ID:          m.ID,
		VersionID:   m.VersionID,
		OS:          m.OS,
		Arch:        m.Arch,
		Digest:      m.Digest,
		SizeBytes:   m.SizeBytes,
		StoragePath: m.StoragePath,
		Downloads:   m.Downloads,
		CreatedAt:   time.Unix(m.CreatedAt, 0),
	}
}

type scanModel struct {
	ID                 int64
	ScanID             string
	VersionID          int64
	Status             string
	RiskScore          string
	Report             *string
	CertificationLevel *int
	ControlsPassed     int
	ControlsFailed     int
	ControlsTotal      int
	FindingsSummary    *string
	Error              string
	StartedAt          int64
	CompletedAt        *int64
}

func (m *scanModel) toDomain() *domain.SecurityScan {
	s := &domain.SecurityScan{
		ID:                 m.ID,
		ScanID:             m.ScanID,
		VersionID:          m.VersionID,
		Status:             domain.ScanStatus(m.Status),
		RiskScore:          m.RiskScore,
		CertificationLevel: m.CertificationLevel,
		ControlsPassed:     m.ControlsPassed,
		ControlsFailed:     m.ControlsFailed,
		ControlsTotal:      m.ControlsTotal,
		Error:              m.Error,
		StartedAt:          time.Unix(m.StartedAt, 0),
	}
	if m.Report != nil {
		s.Report = json.RawMessage(*m.Report)
	}
	if m.FindingsSummary != nil {
		// A summary that fails to decode is treated as absent.
		_ = json.Unmarshal([]byte(*m.FindingsSummary), &s.Findings)
	}
	if m.CompletedAt != nil {
		t := time.Unix(*m.CompletedAt, 0)
		s.CompletedAt = &t
	}
	return s
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableJSON(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func nullableUnix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}
