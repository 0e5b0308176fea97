package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
)

// RequestExport assembles a portability bundle for the user. Domains that
// fail to load are reported inside the bundle rather than failing the whole
// export, so the user still receives everything that could be read.
func (s *Service) RequestExport(ctx context.Context, userID string) (ExportRequest, error) {
	request := ExportRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      ExportInProgress,
		RequestedAt: s.now(),
	}
	if err := s.store.CreateExport(ctx, request); err != nil {
		return ExportRequest{}, err
	}

	bundle := map[string]any{
		"exportId":    request.ID,
		"userId":      userID,
		"generatedAt": request.RequestedAt.UTC().Format(time.RFC3339),
		"format":      "json",
	}
	var included []string
	var failed []string
	for _, domain := range exportDomains {
		rows, err := s.store.CollectDomain(ctx, userID, domain)
		if err != nil {
			slog.Warn("export domain collection failed",
				"exportId", request.ID, "domain", domain, "error", err)
			failed = append(failed, domain)
			continue
		}
		bundle[domain] = sanitizeValue(rows)
		included = append(included, domain)
	}
	if len(failed) > 0 {
		bundle["incompleteDomains"] = failed
	}

	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return ExportRequest{}, err
	}

	artifact, err := s.writeArtifact(request.ID, payload)
	if err != nil {
		return ExportRequest{}, err
	}
	s.writeCoverSheet(request, included)

	completed := s.now()
	expires := completed.Add(s.exportExpiry)
	request.Status = ExportCompleted
	request.CompletedAt = &completed
	request.DownloadURL = "/api/v1/compliance/exports/" + request.ID + "/download"
	request.ExpiresAt = &expires
	request.Domains = included
	request.Encrypted = s.encryptor.Configured()
	if err := s.store.UpdateExport(ctx, request); err != nil {
		return ExportRequest{}, err
	}

	s.audit.Record("data_export_completed", "", map[string]any{
		"exportId": request.ID,
		"userId":   userID,
		"domains":  included,
		"artifact": artifact,
	})
	return request, nil
}

func (s *Service) GetExport(ctx context.Context, id string) (ExportRequest, error) {
	request, err := s.store.GetExport(ctx, id)
	if err != nil {
		return ExportRequest{}, err
	}
	if request.ExpiresAt != nil && s.now().After(*request.ExpiresAt) {
		request.DownloadURL = ""
	}
	return request, nil
}

// ArtifactPath returns the on-disk location of a completed export, or an
// error if the artifact has expired or was never written.
func (s *Service) ArtifactPath(ctx context.Context, id string) (string, error) {
	request, err := s.store.GetExport(ctx, id)
	if err != nil {
		return "", err
	}
	if request.Status != ExportCompleted {
		return "", fmt.Errorf("export %s is not complete", id)
	}
	if request.ExpiresAt != nil && s.now().After(*request.ExpiresAt) {
		return "", fmt.Errorf("export %s has expired", id)
	}
	return filepath.Join(s.exportDir, request.ID+".json"), nil
}

func (s *Service) writeArtifact(exportID string, payload []byte) (string, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", err
	}
	sealed, err := s.encryptor.Encrypt(payload)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.exportDir, exportID+".json")
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// writeCoverSheet produces a human-readable PDF summary next to the JSON
// artifact. Failures are logged and swallowed; the JSON bundle is the
// deliverable.
func (s *Service) writeCoverSheet(request ExportRequest, domains []string) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, s.brandName+" Data Export")
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, "Export ID: "+request.ID)
	pdf.Ln(8)
	pdf.Cell(0, 8, "Requested: "+request.RequestedAt.UTC().Format(time.RFC3339))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Included categories: %d", len(domains)))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	for _, domain := range domains {
		pdf.Cell(0, 6, "  - "+domain)
		pdf.Ln(6)
	}

	path := filepath.Join(s.exportDir, request.ID+"_summary.pdf")
	if err := pdf.OutputFileAndClose(path); err != nil {
		slog.Warn("export cover sheet failed", "exportId", request.ID, "error", err)
	}
}
