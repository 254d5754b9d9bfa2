package gateway

import (
	"context"

	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/model"
	"github.com/studyloop/feedengine/utils"
)

// hashtagRow/tagRow carry the join table's post id alongside the relation
// entity so one query can serve every post in the batch.
type hashtagRow struct {
	model.Hashtag
	PostID string
}

type tagRow struct {
	model.Tag
	PostID string
}

// LoadRelations fetches hashtags, tags and the viewer's like/bookmark edges
// for the whole post id set, one query per relation type. An empty input set
// short-circuits to empty maps so no round trip is wasted.
func (g *PostgresGateway) LoadRelations(ctx context.Context, postIds []string, viewerId string) (*PostRelations, error) {
	relations := &PostRelations{
		Hashtags:   make(map[string][]*model.Hashtag),
		Tags:       make(map[string][]*model.Tag),
		Liked:      make(map[string]bool),
		Bookmarked: make(map[string]bool),
	}
	// The same post can be requested by more than one list at once.
	postIds = utils.DedupStrings(postIds)
	if len(postIds) == 0 {
		return relations, nil
	}

	var hashtagRows []hashtagRow
	err := g.DB.WithContext(ctx).
		Table("hashtags").
		Select("hashtags.*, post_hashtags.post_id AS post_id").
		Joins("JOIN post_hashtags ON post_hashtags.hashtag_id = hashtags.id").
		Where("post_hashtags.post_id IN ?", postIds).
		Scan(&hashtagRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to batch load hashtags")
	}
	for i := range hashtagRows {
		row := hashtagRows[i]
		relations.Hashtags[row.PostID] = append(relations.Hashtags[row.PostID], &row.Hashtag)
	}

	var tagRows []tagRow
	err = g.DB.WithContext(ctx).
		Table("tags").
		Select("tags.*, post_tags.post_id AS post_id").
		Joins("JOIN post_tags ON post_tags.tag_id = tags.id").
		Where("post_tags.post_id IN ?", postIds).
		Scan(&tagRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to batch load tags")
	}
	for i := range tagRows {
		row := tagRows[i]
		relations.Tags[row.PostID] = append(relations.Tags[row.PostID], &row.Tag)
	}

	if viewerId == "" {
		return relations, nil
	}

	var likes []model.PostLike
	err = g.DB.WithContext(ctx).
		Where("post_id IN ? AND user_id = ?", postIds, viewerId).
		Find(&likes).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to batch load like edges")
	}
	for _, like := range likes {
		relations.Liked[like.PostID] = true
	}

	var bookmarks []model.PostBookmark
	err = g.DB.WithContext(ctx).
		Where("post_id IN ? AND user_id = ?", postIds, viewerId).
		Find(&bookmarks).Error
	if err != nil {
		return nil, errors.Wrap(err, "fail to batch load bookmark edges")
	}
	for _, bookmark := range bookmarks {
		relations.Bookmarked[bookmark.PostID] = true
	}

	return relations, nil
}
