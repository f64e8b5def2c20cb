package certify

import (
	"encoding/json"
	"sort"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

// Control statuses as the engine reports them.
const (
	controlPass = "pass"
	controlFail = "fail"
	controlSkip = "skip"
)

// FailedControl identifies one failed control from a report.
type FailedControl struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// DomainSummary aggregates control outcomes for one domain.
type DomainSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Extraction is the certification state derived from an engine report.
type Extraction struct {
	Level          *int // 0-4; nil when the report carries no compliance section
	ControlsPassed int
	ControlsFailed int
	ControlsTotal  int
	Findings       domain.FindingsSummary
	FailedControls []FailedControl
	Domains        map[string]DomainSummary
}

// reportDoc mirrors just the parts of the engine report schema the
// registry stores. Everything else in the report passes through opaque.
type reportDoc struct {
	Compliance struct {
		Level          *int `json:"level"`
		ControlsPassed int  `json:"controls_passed"`
		ControlsFailed int  `json:"controls_failed"`
		ControlsTotal  int  `json:"controls_total"`
	} `json:"compliance"`
	Findings []struct {
		Severity string `json:"severity"`
	} `json:"findings"`
	Domains map[string]struct {
		Controls map[string]struct {
			Status string `json:"status"`
		} `json:"controls"`
	} `json:"domains"`
}

// Extract derives certification fields from a report. Total over all
// inputs: malformed or partial reports yield zero values, never errors.
func Extract(report json.RawMessage) Extraction {
	var doc reportDoc
	if len(report) > 0 {
		// Best effort; a parse failure leaves doc zero-valued.
		_ = json.Unmarshal(report, &doc)
	}

	out := Extraction{
		Level:          doc.Compliance.Level,
		ControlsPassed: doc.Compliance.ControlsPassed,
		ControlsFailed: doc.Compliance.ControlsFailed,
		ControlsTotal:  doc.Compliance.ControlsTotal,
	}

	for _, f := range doc.Findings {
		switch f.Severity {
		case "critical":
			out.Findings.Critical++
		case "high":
			out.Findings.High++
		case "medium":
			out.Findings.Medium++
		case "low":
			out.Findings.Low++
		}
	}

	if len(doc.Domains) > 0 {
		out.Domains = make(map[string]DomainSummary, len(doc.Domains))
		for domainName, d := range doc.Domains {
			var sum DomainSummary
			for id, ctrl := range d.Controls {
				switch ctrl.Status {
				case controlPass:
					sum.Passed++
				case controlFail:
					sum.Failed++
					out.FailedControls = append(out.FailedControls, FailedControl{
						ID:     id,
						Name:   ControlName(id),
						Domain: domainName,
					})
				case controlSkip:
					sum.Skipped++
				}
			}
			out.Domains[domainName] = sum
		}
		sort.Slice(out.FailedControls, func(i, j int) bool {
			return out.FailedControls[i].ID < out.FailedControls[j].ID
		})
	}

	return out
}
