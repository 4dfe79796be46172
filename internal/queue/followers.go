package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/store"
)

// DefaultDisplayName is used when the LINE profile has no name.
const DefaultDisplayName = "名無しさん"

func (s *Service) RecordFollower(ctx context.Context, userID, displayName string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = DefaultDisplayName
	}
	follower := models.Follower{UserID: userID, DisplayName: displayName, FollowedAt: s.now().UTC()}
	if err := s.store.UpsertFollower(ctx, follower); err != nil {
		return fmt.Errorf("record follower: %w", err)
	}
	return nil
}

// SetExaminationNumber registers the clinic card number of a follower.
// Unknown users are recorded first so the mini-app works before the
// follow event arrives.
func (s *Service) SetExaminationNumber(ctx context.Context, userID, displayName, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return ErrInvalidNumber
	}
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	return s.store.WithTx(ctx, func(q store.Queries) error {
		err := q.SetExaminationNumber(ctx, userID, number)
		if !errors.Is(err, store.ErrFollowerNotFound) {
			return err
		}
		if strings.TrimSpace(displayName) == "" {
			displayName = DefaultDisplayName
		}
		if err := q.UpsertFollower(ctx, models.Follower{UserID: userID, DisplayName: displayName, FollowedAt: s.now().UTC()}); err != nil {
			return err
		}
		return q.SetExaminationNumber(ctx, userID, number)
	})
}

// ExaminationNumber returns nil when the user has not registered one.
func (s *Service) ExaminationNumber(ctx context.Context, userID string) (*string, error) {
	follower, err := s.store.GetFollower(ctx, userID)
	if errors.Is(err, store.ErrFollowerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return follower.ExaminationNumber, nil
}

func (s *Service) TicketHolders(ctx context.Context) ([]models.TicketHolder, error) {
	return s.store.ListTicketHolders(ctx)
}

// TicketNumber returns nil when the user holds no ticket.
func (s *Service) TicketNumber(ctx context.Context, userID string) (*int, error) {
	ticket, found, err := s.store.FindTicketByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	number := ticket.TicketNumber
	return &number, nil
}
