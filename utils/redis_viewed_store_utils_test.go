package utils

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedisKeyParser(t *testing.T) {
	p := &RedisKeyParser{delimiter: "_"}
	validUserId := "valid-user-id"
	validPostId := "valid-post-id"
	expectedKey := "valid-user-id_valid-post-id"

	invalidUserId := "invalid_user_id"
	invalidPostId := "invalid_post_id"

	assert.True(t, p.ValidateId(validUserId))
	assert.True(t, p.ValidateId(validPostId))
	assert.False(t, p.ValidateId(invalidPostId))
	assert.False(t, p.ValidateId(invalidUserId))

	k, err := p.EncodePostKey(validUserId, validPostId)
	assert.Equal(t, k, expectedKey)
	assert.Nil(t, err)

	_, err = p.EncodePostKey(invalidUserId, invalidPostId)
	assert.NotNil(t, err)

	uId, pId, err := p.DecodePostKey(expectedKey)
	assert.Nil(t, err)
	assert.Equal(t, uId, validUserId)
	assert.Equal(t, pId, validPostId)
}

func TestRedisViewedStore(t *testing.T) {
	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("no redis configured in this environment")
	}

	r, err := GetRedisViewedStore()
	assert.Nil(t, err)

	userId := "user-id"
	wrongId := "wrong-id"
	viewedItems := []string{"viewed1", "viewed2"}
	freshItems := []string{"fresh1", "fresh2", "fresh3"}
	r.SetPostsViewedStatus(viewedItems, userId, true)
	r.SetPostsViewedStatus(freshItems, userId, false)

	status, err := r.GetPostsViewedStatus(viewedItems, userId)
	assert.Nil(t, err)
	assert.Equal(t, len(viewedItems), len(status))
	for _, s := range status {
		assert.True(t, s)
	}

	status, err = r.GetPostsViewedStatus(freshItems, userId)
	assert.Nil(t, err)
	assert.Equal(t, len(freshItems), len(status))
	for _, s := range status {
		assert.False(t, s)
	}

	status, err = r.GetPostsViewedStatus(viewedItems, wrongId)
	assert.Equal(t, len(viewedItems), len(status))
	assert.Nil(t, err)
	for _, s := range status {
		assert.False(t, s)
	}
}
