package services

import (
	"context"

	"allies-service/internal/models"
	"allies-service/internal/repositories"
)

// ConnectionService applies the write rules for connection requests on top
// of the repository. Duplicate requests to the same recipient are allowed.
type ConnectionService struct {
	repo repositories.ConnectionRepository
}

func NewConnectionService(repo repositories.ConnectionRepository) *ConnectionService {
	return &ConnectionService{repo: repo}
}

func (s *ConnectionService) ListPendingIncoming(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	return s.repo.ListPendingIncoming(ctx, models.NormalizeUserID(userID))
}

func (s *ConnectionService) ListForUser(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	return s.repo.ListForUser(ctx, models.NormalizeUserID(userID))
}

// Get returns the request if actorID is one of its two parties.
func (s *ConnectionService) Get(ctx context.Context, id, actorID string) (*models.ConnectionRequest, error) {
	actorID = models.NormalizeUserID(actorID)
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actorID && req.RecipientID != actorID {
		return nil, repositories.ErrRequestForbidden
	}
	return req, nil
}

func (s *ConnectionService) CreateRequest(ctx context.Context, requesterID, recipientID string) (*models.ConnectionRequest, error) {
	requesterID = models.NormalizeUserID(requesterID)
	recipientID = models.NormalizeUserID(recipientID)

	fields := map[string]string{}
	if requesterID == "" {
		fields["requester_id"] = "required"
	}
	if recipientID == "" {
		fields["recipient_id"] = "required"
	}
	if requesterID != "" && requesterID == recipientID {
		fields["recipient_id"] = "cannot send request to yourself"
	}
	if len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	return s.repo.Create(ctx, requesterID, recipientID)
}

// UpdateStatus moves request id out of pending. Only the recipient may do so.
func (s *ConnectionService) UpdateStatus(ctx context.Context, id, actorID string, status models.ConnectionStatus) (*models.ConnectionRequest, error) {
	if !status.IsTerminal() {
		return nil, NewValidationError(map[string]string{"status": "must be connected or declined"})
	}

	actorID = models.NormalizeUserID(actorID)
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RecipientID != actorID {
		return nil, repositories.ErrRequestForbidden
	}
	if req.Status != models.StatusPending {
		return nil, repositories.ErrRequestNotPending
	}

	return s.repo.UpdateStatus(ctx, id, status)
}
