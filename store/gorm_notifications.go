package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/types"
)

func (s *GormStore) CreateNotifications(ctx context.Context, notifications []*types.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&notifications).Error
}

func (s *GormStore) GetNotifications(ctx context.Context, userId string, page, limit int) ([]*types.Notification, error) {
	offset, limit := pageBounds(page, limit)
	notifications := make([]*types.Notification, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not list notifications")
	}
	return notifications, nil
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, id, userId string) error {
	res := s.db.WithContext(ctx).Model(&types.Notification{}).
		Where("id = ? AND user_id = ?", id, userId).
		Update("is_read", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "could not mark notification read")
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("notification %s not found", id)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
