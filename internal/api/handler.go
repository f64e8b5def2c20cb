// Package api exposes the registry over HTTP: publish, claim, download,
// package reads, and the certification callback.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mpak-dev/mpak-registry/internal/certify"
	"github.com/mpak-dev/mpak-registry/internal/log"
	"github.com/mpak-dev/mpak-registry/internal/registry/application"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
	"github.com/mpak-dev/mpak-registry/internal/storage"
)

// DefaultMaxUploadBytes caps bundle upload size.
const DefaultMaxUploadBytes = 256 << 20

// Handler provides the registry's HTTP endpoints.
type Handler struct {
	publisher      *application.Publisher
	claimer        *application.Claimer
	resolver       *application.DownloadResolver
	scans          *certify.Service
	store          domain.Store
	artifacts      storage.ArtifactStore
	signer         *storage.URLSigner
	maxUploadBytes int64
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	Publisher *application.Publisher
	Claimer   *application.Claimer
	Resolver  *application.DownloadResolver
	Scans     *certify.Service
	Store     domain.Store
	Artifacts storage.ArtifactStore
	Signer    *storage.URLSigner
	// MaxUploadBytes caps publish request bodies (default 256 MiB).
	MaxUploadBytes int64
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		publisher:      cfg.Publisher,
		claimer:        cfg.Claimer,
		resolver:       cfg.Resolver,
		scans:          cfg.Scans,
		store:          cfg.Store,
		artifacts:      cfg.Artifacts,
		signer:         cfg.Signer,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/packages", h.Publish)
	mux.HandleFunc("GET /v1/packages/{scope}/{name}", h.GetPackage)
	mux.HandleFunc("GET /v1/packages/{scope}/{name}/versions/{version}", h.GetVersion)
	mux.HandleFunc("POST /v1/packages/{scope}/{name}/claim", h.Claim)
	mux.HandleFunc("GET /v1/packages/{scope}/{name}/versions/{version}/download", h.Download)

	mux.HandleFunc("POST /v1/scans/callback", h.ScanCallback)
	mux.HandleFunc("GET /v1/scans/{scanID}", h.GetScan)

	mux.HandleFunc("GET /v1/artifacts/{path...}", h.ServeArtifact)

	mux.HandleFunc("GET /health", h.Health)

	return mux
}

// === Request/Response Types ===

// PublishResponse is the response body for a successful publish.
type PublishResponse struct {
	Package     string `json:"package"`
	Version     string `json:"version"`
	Digest      string `json:"digest"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url"`
	AutoClaimed bool   `json:"auto_claimed"`
}

// ClaimRequest is the request body for claiming a package.
type ClaimRequest struct {
	// GitHubRepo overrides the repository on file (owner/repo or URL).
	GitHubRepo string `json:"github_repo,omitempty"`
}

// PackageResponse is the response body for a single package.
type PackageResponse struct {
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	License       string     `json:"license,omitempty"`
	IconURL       string     `json:"icon_url,omitempty"`
	Author        string     `json:"author,omitempty"`
	LatestVersion string     `json:"latest_version"`
	ClaimedBy     *string    `json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	GitHubRepo    *string    `json:"github_repo,omitempty"`
	Stars         int        `json:"stars"`
	Forks         int        `json:"forks"`
	Watchers      int        `json:"watchers"`
	Downloads     int64      `json:"downloads"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// VersionResponse is the response body for a single version.
type VersionResponse struct {
	Package       string                 `json:"package"`
	Version       string                 `json:"version"`
	Manifest      json.RawMessage        `json:"manifest"`
	PublishMethod string                 `json:"publish_method"`
	Downloads     int64                  `json:"downloads"`
	CreatedAt     time.Time              `json:"created_at"`
	Artifacts     []ArtifactResponse     `json:"artifacts"`
	Certification *CertificationResponse `json:"certification,omitempty"`
}

// ArtifactResponse describes one downloadable artifact.
type ArtifactResponse struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Digest    string `json:"digest"`
	SizeBytes int64  `json:"size_bytes"`
	Downloads int64  `json:"downloads"`
}

// CertificationResponse summarizes a version's security scan.
type CertificationResponse struct {
	ScanID             string                 `json:"scan_id"`
	Status             string                 `json:"status"`
	RiskScore          string                 `json:"risk_score,omitempty"`
	CertificationLevel *int                   `json:"certification_level,omitempty"`
	ControlsPassed     int                    `json:"controls_passed"`
	ControlsFailed     int                    `json:"controls_failed"`
	ControlsTotal      int                    `json:"controls_total"`
	Findings           domain.FindingsSummary `json:"findings_summary"`
	Error              string                 `json:"error,omitempty"`
	StartedAt          time.Time              `json:"started_at"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
}

// ScanResponse is the detailed response for one scan, including the
// per-domain breakdown derived from the stored report.
type ScanResponse struct {
	CertificationResponse
	FailedControls []certify.FailedControl          `json:"failed_controls,omitempty"`
	Domains        map[string]certify.DomainSummary `json:"domains,omitempty"`
}

// DownloadResponse is the JSON form of a download resolution.
type DownloadResponse struct {
	URL       string    `json:"url"`
	Digest    string    `json:"digest"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the response body for errors. Errors carries the
// individual violations for validation failures.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Details string   `json:"details,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// HealthResponse is the response body for the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// === Handlers ===

// Publish stores a new package version from an uploaded bundle.
// POST /v1/packages
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	bundle, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Could not read bundle", err.Error())
		return
	}

	opts := application.PublishOptions{}
	if r.Header.Get("X-Publish-Method") == string(domain.PublishMethodOIDC) {
		opts.Method = domain.PublishMethodOIDC
		if prov := r.Header.Get("X-Provenance"); prov != "" && json.Valid([]byte(prov)) {
			opts.Provenance = json.RawMessage(prov)
		}
	}

	res, err := h.publisher.Publish(r.Context(), principal, bundle, opts)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, PublishResponse{
		Package:     res.Package.Name,
		Version:     res.Version.Version,
		Digest:      res.Artifact.Digest,
		SizeBytes:   res.Artifact.SizeBytes,
		URL:         res.URL,
		AutoClaimed: res.AutoClaimed,
	})
}

// GetPackage returns package metadata.
// GET /v1/packages/{scope}/{name}
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	name, ok := h.packageName(w, r)
	if !ok {
		return
	}
	pkg, err := h.store.FindPackageByName(r.Context(), name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, packageToResponse(pkg))
}

// GetVersion returns one version with its artifacts and certification
// summary.
// GET /v1/packages/{scope}/{name}/versions/{version}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	name, ok := h.packageName(w, r)
	if !ok {
		return
	}
	pkg, err := h.store.FindPackageByName(r.Context(), name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	version := r.PathValue("version")
	if version == application.LatestVersion {
		version = pkg.LatestVersion
	}
	v, err := h.store.FindVersion(r.Context(), pkg.ID, version)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	artifacts, err := h.store.FindArtifacts(r.Context(), v.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := VersionResponse{
		Package:       pkg.Name,
		Version:       v.Version,
		Manifest:      v.Manifest,
		PublishMethod: string(v.PublishMethod),
		Downloads:     v.Downloads,
		CreatedAt:     v.CreatedAt,
	}
	for _, a := range artifacts {
		resp.Artifacts = append(resp.Artifacts, ArtifactResponse{
			OS: a.OS, Arch: a.Arch,
			Digest: a.Digest, SizeBytes: a.SizeBytes, Downloads: a.Downloads,
		})
	}
	if scan, err := h.store.FindLatestScanForVersion(r.Context(), v.ID); err == nil {
		cert := scanToResponse(scan)
		resp.Certification = &cert
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Claim commits an ownership claim.
// POST /v1/packages/{scope}/{name}/claim
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	name, ok := h.packageName(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
			return
		}
	}

	pkg, err := h.claimer.Claim(r.Context(), principal, name, req.GitHubRepo)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, packageToResponse(pkg))
}

// Download resolves an artifact for a platform. With Accept:
// application/json the signed URL is returned as a document; otherwise
// the client is redirected to it.
// GET /v1/packages/{scope}/{name}/versions/{version}/download?os=linux&arch=x64
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	name, ok := h.packageName(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	dl, err := h.resolver.Resolve(r.Context(), name, r.PathValue("version"), q.Get("os"), q.Get("arch"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		h.writeJSON(w, http.StatusOK, DownloadResponse{
			URL:       dl.URL,
			Digest:    dl.Artifact.Digest,
			SizeBytes: dl.Artifact.SizeBytes,
			ExpiresAt: dl.ExpiresAt,
		})
		return
	}
	http.Redirect(w, r, dl.URL, http.StatusFound)
}

// ServeArtifact streams stored bundle bytes for a valid signed URL.
// GET /v1/artifacts/{path...}?expires=...&sig=...
func (h *Handler) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	q := r.URL.Query()
	if err := h.signer.Verify(path, q.Get("expires"), q.Get("sig"), time.Now()); err != nil {
		h.writeError(w, http.StatusForbidden, "invalid_signature", "Signed URL is invalid or expired", "")
		return
	}

	rc, err := h.artifacts.Open(r.Context(), path)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Artifact not found", "")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		log.ErrorErr(log.CatHTTP, "Failed to stream artifact", err, "path", path)
	}
}

// ScanCallback applies a certification engine callback.
// POST /v1/scans/callback
func (h *Handler) ScanCallback(w http.ResponseWriter, r *http.Request) {
	if !h.scans.AuthenticateCallback(r.Header.Get("X-Callback-Secret")) {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid callback secret", "")
		return
	}

	var cb certify.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if err := h.scans.HandleCallback(r.Context(), cb); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetScan returns a scan's status and certification breakdown.
// GET /v1/scans/{scanID}
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := h.store.FindScan(r.Context(), r.PathValue("scanID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ScanResponse{CertificationResponse: scanToResponse(scan)}
	if scan.Status == domain.ScanCompleted {
		ext := certify.Extract(scan.Report)
		resp.FailedControls = ext.FailedControls
		resp.Domains = ext.Domains
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// === Helpers ===

// principal extracts the authenticated caller from upstream auth
// headers. Authentication itself happens in front of this service.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p := domain.Principal{
		UserID:         r.Header.Get("X-User-ID"),
		Email:          r.Header.Get("X-User-Email"),
		GitHubUsername: r.Header.Get("X-GitHub-Username"),
	}
	if p.UserID == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing user identity", "")
		return domain.Principal{}, false
	}
	return p, true
}

// packageName joins and validates the scope and name path segments.
func (h *Handler) packageName(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.PathValue("scope") + "/" + r.PathValue("name")
	name, err := domain.ParseName(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "Invalid package name", err.Error())
		return "", false
	}
	return name.String(), true
}

func packageToResponse(pkg *domain.Package) PackageResponse {
	return PackageResponse{
		Name:          pkg.Name,
		Description:   pkg.Description,
		License:       pkg.License,
		IconURL:       pkg.IconURL,
		Author:        pkg.Author,
		LatestVersion: pkg.LatestVersion,
		ClaimedBy:     pkg.ClaimedBy,
		ClaimedAt:     pkg.ClaimedAt,
		GitHubRepo:    pkg.GitHubRepo,
		Stars:         pkg.Stars,
		Forks:         pkg.Forks,
		Watchers:      pkg.Watchers,
		Downloads:     pkg.Downloads,
		CreatedAt:     pkg.CreatedAt,
		UpdatedAt:     pkg.UpdatedAt,
	}
}

func scanToResponse(scan *domain.SecurityScan) CertificationResponse {
	return CertificationResponse{
		ScanID:             scan.ScanID,
		Status:             string(scan.Status),
		RiskScore:          scan.RiskScore,
		CertificationLevel: scan.CertificationLevel,
		ControlsPassed:     scan.ControlsPassed,
		ControlsFailed:     scan.ControlsFailed,
		ControlsTotal:      scan.ControlsTotal,
		Findings:           scan.Findings,
		Error:              scan.Error,
		StartedAt:          scan.StartedAt,
		CompletedAt:        scan.CompletedAt,
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var denied *domain.ClaimDeniedError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "Manifest validation failed",
			Code:   "validation_error",
			Errors: verr.Errors,
		})
	case errors.As(err, &denied):
		h.writeError(w, http.StatusForbidden, "claim_denied", denied.Reason, denied.Remediation)
	case errors.Is(err, domain.ErrVersionExists):
		h.writeError(w, http.StatusConflict, "version_exists", err.Error(), "")
	case domain.NotFound(err):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), "")
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden", err.Error(), "")
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), "")
	case errors.Is(err, domain.ErrBadRequest):
		h.writeError(w, http.StatusBadRequest, "bad_request", err.Error(), "")
	default:
		log.ErrorErr(log.CatHTTP, "Internal error", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal error", "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatHTTP, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
