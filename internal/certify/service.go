package certify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mpak-dev/mpak-registry/internal/log"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
	"github.com/mpak-dev/mpak-registry/internal/tasks"
)

// DefaultFreshnessWindow is how long a non-terminal scan suppresses
// re-triggering for the same version. A scan older than this is assumed
// lost and a new one may be started.
const DefaultFreshnessWindow = 15 * time.Minute

// Config carries the scan engine wiring. Injected explicitly so the
// service is testable with fake endpoints and secrets.
type Config struct {
	Enabled         bool
	ScannerURL      string // engine trigger endpoint
	CallbackURL     string // public URL the engine calls back on
	CallbackSecret  string // shared secret for both directions
	FreshnessWindow time.Duration
}

// Service owns the scan lifecycle: it creates scan rows, hands bundles
// to the certification engine, and applies engine callbacks.
type Service struct {
	store  domain.Store
	pool   *tasks.Pool
	client *http.Client
	cfg    Config
}

func NewService(store domain.Store, pool *tasks.Pool, cfg Config) *Service {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	return &Service{
		store:  store,
		pool:   pool,
		client: &http.Client{Timeout: 30 * time.Second},
		cfg:    cfg,
	}
}

// Enabled reports whether certification is configured on.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// AuthenticateCallback compares a presented callback secret against the
// configured one in constant time.
func (s *Service) AuthenticateCallback(secret string) bool {
	return hmac.Equal([]byte(secret), []byte(s.cfg.CallbackSecret))
}

// TriggerRequest identifies the bundle to certify.
type TriggerRequest struct {
	VersionID   int64
	PackageName string
	Version     string
	StoragePath string
}

// Trigger starts a scan for a version, unless a fresh one is already in
// flight, in which case that scan is returned instead. The engine
// hand-off happens asynchronously; the returned scan is pending.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*domain.SecurityScan, error) {
	latest, err := s.store.FindLatestScanForVersion(ctx, req.VersionID)
	switch {
	case err == nil:
		if !latest.Status.Terminal() && time.Since(latest.StartedAt) < s.cfg.FreshnessWindow {
			log.Debug(log.CatScan, "Scan already in flight",
				"scanID", latest.ScanID, "status", string(latest.Status))
			return latest, nil
		}
	case !errors.Is(err, domain.ErrScanNotFound):
		return nil, fmt.Errorf("looking up existing scan: %w", err)
	}

	scan := &domain.SecurityScan{
		ScanID:    uuid.NewString(),
		VersionID: req.VersionID,
		Status:    domain.ScanPending,
		StartedAt: time.Now(),
	}
	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		return tx.CreateScan(scan)
	})
	if err != nil {
		return nil, fmt.Errorf("creating scan: %w", err)
	}

	log.Info(log.CatScan, "Scan triggered",
		"scanID", scan.ScanID, "package", req.PackageName, "version", req.Version)

	err = s.pool.Submit("scan-handoff", func(jobCtx context.Context) error {
		return s.handOff(jobCtx, scan.ScanID, req)
	})
	if err != nil {
		// Queue saturated or pool closing. The scan stays pending and
		// becomes re-triggerable after the freshness window.
		log.ErrorErr(log.CatScan, "Failed to enqueue scan hand-off", err, "scanID", scan.ScanID)
	}
	return scan, nil
}

// handoffPayload is the trigger body sent to the engine.
type handoffPayload struct {
	ScanID            string `json:"scan_id"`
	VersionID         int64  `json:"version_id"`
	BundleStoragePath string `json:"bundle_storage_path"`
	PackageName       string `json:"package_name"`
	Version           string `json:"version"`
	CallbackURL       string `json:"callback_url"`
}

func (s *Service) handOff(ctx context.Context, scanID string, req TriggerRequest) error {
	body, err := json.Marshal(handoffPayload{
		ScanID:            scanID,
		VersionID:         req.VersionID,
		BundleStoragePath: req.StoragePath,
		PackageName:       req.PackageName,
		Version:           req.Version,
		CallbackURL:       s.cfg.CallbackURL,
	})
	if err != nil {
		return fmt.Errorf("encoding hand-off: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ScannerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating hand-off request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.CallbackSecret)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.failScan(ctx, scanID, fmt.Sprintf("engine unreachable: %v", err))
		return fmt.Errorf("hand-off to engine: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf("engine refused hand-off: status %d", resp.StatusCode)
		s.failScan(ctx, scanID, reason)
		return errors.New(reason)
	}

	// The engine may complete very fast scans before this ack lands, so
	// a no-op transition here is fine.
	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		_, err := tx.TransitionScan(scanID, domain.ScanPending, domain.ScanScanning)
		return err
	})
	if err != nil {
		return fmt.Errorf("marking scan scanning: %w", err)
	}
	log.Debug(log.CatScan, "Scan handed off", "scanID", scanID)
	return nil
}

func (s *Service) failScan(ctx context.Context, scanID, reason string) {
	now := time.Now()
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		_, err := tx.UpdateScanResult(&domain.SecurityScan{
			ScanID:      scanID,
			Status:      domain.ScanFailed,
			Error:       reason,
			CompletedAt: &now,
		})
		return err
	})
	if err != nil {
		log.ErrorErr(log.CatScan, "Failed to record scan failure", err, "scanID", scanID)
	}
}

// Callback is the engine's result payload.
type Callback struct {
	ScanID    string          `json:"scan_id"`
	Status    string          `json:"status"` // completed | failed
	RiskScore string          `json:"risk_score,omitempty"`
	Report    json.RawMessage `json:"report,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// HandleCallback applies an engine callback. Idempotent: unknown scan
// IDs and scans already in a terminal state are acknowledged without
// effect, so engine redeliveries never fail.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) error {
	status := domain.ScanStatus(cb.Status)
	if !status.Terminal() {
		return fmt.Errorf("%w: callback status must be completed or failed, got %q",
			domain.ErrBadRequest, cb.Status)
	}

	scan, err := s.store.FindScan(ctx, cb.ScanID)
	if errors.Is(err, domain.ErrScanNotFound) {
		log.Warn(log.CatScan, "Callback for unknown scan", "scanID", cb.ScanID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up scan: %w", err)
	}
	if scan.Status.Terminal() {
		log.Debug(log.CatScan, "Callback for terminal scan ignored",
			"scanID", cb.ScanID, "status", string(scan.Status))
		return nil
	}

	now := time.Now()
	result := &domain.SecurityScan{
		ScanID:      cb.ScanID,
		Status:      status,
		RiskScore:   cb.RiskScore,
		Report:      cb.Report,
		Error:       cb.Error,
		CompletedAt: &now,
	}
	if status == domain.ScanCompleted {
		ext := Extract(cb.Report)
		result.CertificationLevel = ext.Level
		result.ControlsPassed = ext.ControlsPassed
		result.ControlsFailed = ext.ControlsFailed
		result.ControlsTotal = ext.ControlsTotal
		result.Findings = ext.Findings
	}

	var applied bool
	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		applied, err = tx.UpdateScanResult(result)
		return err
	})
	if err != nil {
		return fmt.Errorf("storing scan result: %w", err)
	}
	if !applied {
		// Lost a race with another delivery of the same callback.
		log.Debug(log.CatScan, "Scan result already recorded", "scanID", cb.ScanID)
		return nil
	}

	log.Info(log.CatScan, "Scan completed",
		"scanID", cb.ScanID, "status", string(status), "riskScore", cb.RiskScore)
	return nil
}
