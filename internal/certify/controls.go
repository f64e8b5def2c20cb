// Package certify manages the security certification lifecycle:
// triggering scans, receiving engine callbacks, and deriving
// certification state from scan reports.
package certify

// Control domains in report order.
const (
	DomainArtifactIntegrity     = "artifact_integrity"
	DomainSupplyChain           = "supply_chain"
	DomainCodeQuality           = "code_quality"
	DomainCapabilityDeclaration = "capability_declaration"
	DomainProvenance            = "provenance"
)

// controlNames maps scanner control IDs to their human-readable names,
// mirroring the engine's control taxonomy.
var controlNames = map[string]string{
	"AI-01": "Valid Manifest",
	"AI-02": "Content Hashes",
	"AI-03": "Bundle Signature",
	"AI-04": "Reproducible Build",
	"AI-05": "Bundle Completeness",

	"SC-01": "SBOM Generation",
	"SC-02": "Vulnerability Scan",
	"SC-03": "Dependency Pinning",
	"SC-04": "Lockfile Integrity",
	"SC-05": "Trusted Sources",

	"CQ-01": "No Embedded Secrets",
	"CQ-02": "No Malicious Patterns",
	"CQ-03": "Static Analysis Clean",
	"CQ-04": "Input Validation",
	"CQ-05": "Safe Execution Patterns",
	"CQ-06": "Behavioral Analysis",

	"CD-01": "Tool Declaration",
	"CD-02": "Permission Scope",
	"CD-03": "Tool Description Safety",
	"CD-04": "Credential Scope Declaration",
	"CD-05": "Token Lifetime Declaration",

	"PR-01": "Source Repository",
	"PR-02": "Author Identity",
	"PR-03": "Build Attestation",
	"PR-04": "Commit Linkage",
	"PR-05": "Repository Health",
}

// ControlName returns the human-readable name for a control ID, or the
// ID itself when the engine reports a control this build does not know.
func ControlName(id string) string {
	if name, ok := controlNames[id]; ok {
		return name
	}
	return id
}
