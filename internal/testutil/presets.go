package testutil

import "fmt"

// ManifestJSON returns a minimal valid manifest for a scoped package.
func ManifestJSON(name, version string) string {
	return fmt.Sprintf(`{
		"name": %q,
		"version": %q,
		"description": "test package",
		"license": "MIT",
		"author": {"name": "Test Author"},
		"server": {"type": "node"}
	}`, name, version)
}

// CompletedReportJSON returns a small scanner report at the given
// certification level with all controls passing.
func CompletedReportJSON(level int) string {
	return fmt.Sprintf(`{
		"compliance": {"level": %d, "controls_passed": 26, "controls_failed": 0, "controls_total": 26},
		"findings": [],
		"domains": {}
	}`, level)
}

// WithCertifiedPackage seeds one claimed package with a published
// version, a universal artifact, and a completed level-2 scan.
func (b *Builder) WithCertifiedPackage(name, version string) *Builder {
	return b.
		WithPackage(name, ClaimedBy("user-test"), LatestVersion(version)).
		WithVersion(version).
		WithArtifact("any", "any").
		WithScan("scan-"+name+"-"+version,
			ScanStatus("completed"),
			ScanReport(2, CompletedReportJSON(2)))
}
