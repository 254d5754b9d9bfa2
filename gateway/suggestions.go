package gateway

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/model"
)

func (g *PostgresGateway) FollowedIds(ctx context.Context, viewerId string) ([]string, error) {
	var ids []string
	err := g.DB.WithContext(ctx).Model(&model.UserFollow{}).
		Where("follower_id = ? AND deleted_at IS NULL", viewerId).
		Pluck("followee_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to load followed ids")
	}
	return ids, nil
}

// MutualCounts aggregates the second-degree follow graph in one query:
// everyone followed by the viewer's followees, with how many followees follow
// them.
func (g *PostgresGateway) MutualCounts(ctx context.Context, followedIds []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(followedIds) == 0 {
		return counts, nil
	}

	type row struct {
		FolloweeID string
		Mutuals    int
	}
	var rows []row
	err := g.DB.WithContext(ctx).Model(&model.UserFollow{}).
		Select("followee_id, COUNT(*) AS mutuals").
		Where("follower_id IN ? AND deleted_at IS NULL", followedIds).
		Group("followee_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to aggregate mutual counts")
	}

	for _, r := range rows {
		counts[r.FolloweeID] = r.Mutuals
	}
	return counts, nil
}

func (g *PostgresGateway) UsersByIds(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return []*model.User{}, nil
	}
	var users []*model.User
	err := g.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to load users by ids")
	}
	return users, nil
}

func (g *PostgresGateway) PopularUsers(ctx context.Context, excludeIds []string, limit int) ([]*model.User, error) {
	db := g.DB.WithContext(ctx).Model(&model.User{}).
		Order("followers_count DESC, last_active DESC").
		Limit(limit)
	if len(excludeIds) > 0 {
		db = db.Where("id NOT IN ?", excludeIds)
	}

	var users []*model.User
	if err := db.Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "fail to load popular users")
	}
	return users, nil
}

func (g *PostgresGateway) Interests(ctx context.Context, viewerId string) ([]string, error) {
	var user model.User
	result := g.DB.WithContext(ctx).Where("id = ?", viewerId).First(&user)
	if result.Error != nil {
		return nil, errors.Wrapf(result.Error, "fail to load viewer %s", viewerId)
	}

	var interests []string
	if len(user.Interests) > 0 {
		if err := json.Unmarshal(user.Interests, &interests); err != nil {
			return nil, errors.Wrap(err, "malformed interests column")
		}
	}
	return interests, nil
}
