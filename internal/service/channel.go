package service

import (
	"context"

	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/repository"
)

type ChannelService struct {
	repo repository.ChannelRepository
}

func NewChannelService(repo repository.ChannelRepository) *ChannelService {
	return &ChannelService{repo: repo}
}

// FindForTenant returns the channel only when it belongs to tenantID.
func (s *ChannelService) FindForTenant(ctx context.Context, tenantID, channelID string) (*model.Channel, error) {
	channel, err := s.repo.FindByID(ctx, channelID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if channel == nil || channel.TenantID != tenantID {
		return nil, apperrors.NotFound("Channel")
	}
	return channel, nil
}
