package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
)

// RequestDeletion opens a deletion request in the pending state. Nothing is
// removed until the user confirms through the emailed verification link.
func (s *Service) RequestDeletion(ctx context.Context, userID, email, reason string) (DeletionRequest, error) {
	now := s.now()
	request := DeletionRequest{
		ID:          fmt.Sprintf("del_%s_%d", userID, now.UnixMilli()),
		UserID:      userID,
		Email:       email,
		Reason:      reason,
		Status:      DeletionPendingVerification,
		RequestedAt: now,
	}
	if err := s.store.CreateDeletion(ctx, request); err != nil {
		return DeletionRequest{}, err
	}

	s.audit.Record("deletion_requested", "", map[string]any{
		"requestId": request.ID,
		"userId":    userID,
		"reason":    reason,
	})
	return request, nil
}

// ConfirmDeletion executes a verified deletion request. The user's data is
// exported first so nothing is lost if they change their mind later, then
// dependent records are removed, and the profile row goes last. Dependent
// failures are logged and skipped; a failed profile delete fails the whole
// operation since the account would otherwise appear deleted while it still
// exists.
func (s *Service) ConfirmDeletion(ctx context.Context, requestID string) (DeletionRequest, error) {
	request, err := s.store.GetDeletion(ctx, requestID)
	if err != nil {
		return DeletionRequest{}, err
	}
	if request.Status != DeletionPendingVerification {
		return DeletionRequest{}, ErrDeletionBadState
	}

	confirmed := s.now()
	request.ConfirmedAt = &confirmed

	export, err := s.RequestExport(ctx, request.UserID)
	if err != nil {
		slog.Warn("pre-deletion export failed, continuing with deletion",
			"requestId", requestID, "error", err)
	} else {
		request.ExportID = export.ID
	}

	var failedDomains []string
	for domain := range domainDeletes {
		if _, err := s.store.DeleteDomain(ctx, request.UserID, domain); err != nil {
			slog.Warn("deletion domain failed",
				"requestId", requestID, "domain", domain, "error", err)
			failedDomains = append(failedDomains, domain)
		}
	}
	if _, err := s.store.DeleteCachedPartnerData(ctx, request.UserID); err != nil {
		slog.Warn("cached partner data delete failed", "requestId", requestID, "error", err)
		failedDomains = append(failedDomains, "partner_cache")
	}

	if err := s.store.DeleteUserProfile(ctx, request.UserID); err != nil {
		return DeletionRequest{}, fmt.Errorf("delete user profile: %w", err)
	}

	completed := s.now()
	request.Status = DeletionCompleted
	request.CompletedAt = &completed
	if err := s.store.UpdateDeletion(ctx, request); err != nil {
		return DeletionRequest{}, err
	}

	details := map[string]any{
		"requestId": requestID,
		"userId":    request.UserID,
		"exportId":  request.ExportID,
	}
	if len(failedDomains) > 0 {
		details["incompleteDomains"] = failedDomains
	}
	s.audit.Record("deletion_completed", "", details)
	return request, nil
}

func (s *Service) GetDeletionStatus(ctx context.Context, requestID string) (DeletionRequest, error) {
	return s.store.GetDeletion(ctx, requestID)
}
