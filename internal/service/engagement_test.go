package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/model"
)

func onboardedAuthor() *model.Profile {
	return &model.Profile{UserID: "user-1", Username: "study_buddy"}
}

func seedPost(f *fakeGateway, id string) {
	f.seedRow("posts", map[string]any{
		"id":            id,
		"user_id":       "user-9",
		"username":      "original_poster",
		"content":       "anyone have notes from tuesday?",
		"course_code":   "CS101",
		"likes":         0,
		"comment_count": 0,
	})
}

func TestCreatePost(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())

	post, err := s.CreatePost(context.Background(), onboardedAuthor(), "cs 101", "midterm was brutal")
	require.NoError(t, err)
	assert.Equal(t, "CS101", post.CourseCode, "course code is normalized on write")
	assert.Equal(t, "study_buddy", post.Username)
	assert.Equal(t, 0, post.LikeCount)
	assert.Equal(t, 0, post.CommentCount)
	assert.NotEmpty(t, post.ID)
}

func TestCreatePost_RequiresOnboardedAuthor(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())

	notOnboarded := &model.Profile{UserID: "user-1"} // no username yet
	_, err := s.CreatePost(context.Background(), notOnboarded, "CS 101", "hello")
	require.ErrorIs(t, err, apperror.ErrValidation)

	_, err = s.CreatePost(context.Background(), nil, "CS 101", "hello")
	require.ErrorIs(t, err, apperror.ErrValidation)
}

func TestCreatePost_ContentValidation(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())

	_, err := s.CreatePost(context.Background(), onboardedAuthor(), "CS 101", "   ")
	require.ErrorIs(t, err, apperror.ErrValidation)

	long := make([]byte, MaxPostLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.CreatePost(context.Background(), onboardedAuthor(), "CS 101", string(long))
	require.ErrorIs(t, err, apperror.ErrValidation)
}

// TestLikePost_ConcurrentLikes is the lost-update property: 100 concurrent
// likes on a fresh post must land as exactly 100. This holds because the
// increment is a single server-side operation — the service never reads the
// count, adds one and writes it back.
func TestLikePost_ConcurrentLikes(t *testing.T) {
	const likers = 100

	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())
	seedPost(f, "post-1")

	var wg sync.WaitGroup
	for i := 0; i < likers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.LikePost(context.Background(), "post-1"); err != nil {
				t.Errorf("LikePost() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got := f.counterValue("posts", "likes", gateway.Filters{"id": "post-1"})
	assert.Equal(t, likers, got, "concurrent likes lost updates")
}

func TestAddComment_IncrementsParentCount(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())
	seedPost(f, "post-1")

	comment, err := s.AddComment(context.Background(), onboardedAuthor(), "post-1", "same, question 4 was rough")
	require.NoError(t, err)
	assert.Equal(t, "post-1", comment.PostID)
	assert.NotEmpty(t, comment.ID)

	assert.Equal(t, 1, f.counterValue("posts", "comment_count", gateway.Filters{"id": "post-1"}))
}

// TestAddComment_CounterFailureKeepsComment pins the reconciliation policy:
// the comment row is authoritative, the counter is a cache. A failed
// increment must not roll back, hide, or fail the comment.
func TestAddComment_CounterFailureKeepsComment(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())
	seedPost(f, "post-1")

	f.incrementErr = apperror.Network("increment", errors.New("backend hiccup"))

	comment, err := s.AddComment(context.Background(), onboardedAuthor(), "post-1", "still here")
	require.NoError(t, err, "a failed counter increment must not surface")
	require.NotNil(t, comment)

	// The row exists; the counter is stale until the reconcile job runs.
	assert.Equal(t, 1, f.rowCount("comments", gateway.Filters{"post_id": "post-1"}))
	assert.Equal(t, 0, f.counterValue("posts", "comment_count", gateway.Filters{"id": "post-1"}))
}

func TestLikeComment(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())
	seedPost(f, "post-1")

	comment, err := s.AddComment(context.Background(), onboardedAuthor(), "post-1", "bump")
	require.NoError(t, err)

	require.NoError(t, s.LikeComment(context.Background(), comment.ID))
	assert.Equal(t, 1, f.counterValue("comments", "likes", gateway.Filters{"id": comment.ID}))
}

func TestListPosts_NewestFirstAndCourseFilter(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())

	author := onboardedAuthor()
	_, err := s.CreatePost(context.Background(), author, "CS 101", "first")
	require.NoError(t, err)
	_, err = s.CreatePost(context.Background(), author, "MATH 220", "second")
	require.NoError(t, err)
	_, err = s.CreatePost(context.Background(), author, "CS 101", "third")
	require.NoError(t, err)

	all, err := s.ListPosts(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Content, "feed is newest first")

	cs, err := s.ListPostsForCourse(context.Background(), "cs-101")
	require.NoError(t, err)
	require.Len(t, cs, 2)
	for _, p := range cs {
		assert.Equal(t, "CS101", p.CourseCode)
	}
}

func TestListComments_NewestFirst(t *testing.T) {
	f := newFakeGateway()
	s := NewEngagementService(f, testLogger())
	seedPost(f, "post-1")

	author := onboardedAuthor()
	_, err := s.AddComment(context.Background(), author, "post-1", "first")
	require.NoError(t, err)
	_, err = s.AddComment(context.Background(), author, "post-1", "second")
	require.NoError(t, err)

	comments, err := s.ListComments(context.Background(), "post-1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "second", comments[0].Content)
}
