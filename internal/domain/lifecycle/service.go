package lifecycle

import (
	"time"

	"mall/internal/domain/audit"
	"mall/internal/platform/config"
	"mall/internal/platform/crypto"
)

// Service owns the two ends of the data lifecycle: portability exports and
// account deletion, plus residual-data cleanup in between.
type Service struct {
	store     Store
	audit     *audit.Log
	encryptor *crypto.Service

	exportDir    string
	exportExpiry time.Duration
	brandName    string
	cleanupDays  int

	now func() time.Time
}

func NewService(cfg config.Config, store Store, auditLog *audit.Log, encryptor *crypto.Service) *Service {
	return &Service{
		store:        store,
		audit:        auditLog,
		encryptor:    encryptor,
		exportDir:    cfg.ExportDir,
		exportExpiry: cfg.ExportExpiry,
		brandName:    cfg.BrandName,
		cleanupDays:  cfg.CleanupDays,
		now:          time.Now,
	}
}
