package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/model"
)

// Content limits for posts and comments.
const (
	MaxPostLength    = 2000
	MaxCommentLength = 1000
)

// EngagementService owns posts, comments and their counters.
//
// COUNTER DISCIPLINE: like and comment counts are only ever changed through
// the gateway's atomic Increment — a server-side `count = count + 1`.
// Reading the current count, adding one and writing the result back loses
// updates the moment two users like the same post together, so that pattern
// does not appear anywhere in this service.
//
// The comment row is authoritative; the parent post's comment_count is a
// best-effort cache of it. When the two writes cannot be one transaction
// (this backend's row API cannot span tables), a failed counter increment
// must never hide or roll back a created comment. The reconcile job
// (internal/reconcile) recomputes counts from the rows as the backstop.
type EngagementService struct {
	gw      gateway.Gateway
	logger  *slog.Logger
	timeout time.Duration
}

func NewEngagementService(gw gateway.Gateway, logger *slog.Logger) *EngagementService {
	return &EngagementService{
		gw:      gw,
		logger:  logger,
		timeout: DefaultCallTimeout,
	}
}

// CreatePost publishes a post authored by the given profile. The author
// must be onboarded (username set) — enforced here because authorship is
// denormalized onto the row.
func (s *EngagementService) CreatePost(ctx context.Context, author *model.Profile, courseCode, content string) (*model.Post, error) {
	if !author.Onboarded() {
		return nil, apperror.ValidationFailed("username", "set a username before posting")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "post content is required")
	}
	if len(content) > MaxPostLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("post content must be at most %d characters", MaxPostLength))
	}
	normalized := NormalizeCourseCode(courseCode)
	if normalized == "" {
		return nil, apperror.ValidationFailed("courseCode", "course code is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := map[string]any{
		"user_id":       author.UserID,
		"username":      author.Username,
		"content":       content,
		"course_code":   normalized,
		"likes":         0,
		"comment_count": 0,
	}
	raw, err := s.gw.Insert(ctx, gateway.TablePosts, row)
	if err != nil {
		return nil, fmt.Errorf("service/engagement: creating post: %w", err)
	}
	post, err := gateway.DecodeOne[model.Post](raw)
	if err != nil {
		return nil, err
	}

	s.logger.Info("post created",
		slog.String("postID", post.ID),
		slog.String("courseCode", normalized),
	)
	return post, nil
}

// ListPosts returns all posts, newest first.
func (s *EngagementService) ListPosts(ctx context.Context) ([]model.Post, error) {
	return s.listPosts(ctx, nil)
}

// ListPostsForCourse returns the posts for one course, newest first.
func (s *EngagementService) ListPostsForCourse(ctx context.Context, courseCode string) ([]model.Post, error) {
	normalized := NormalizeCourseCode(courseCode)
	if normalized == "" {
		return nil, apperror.ValidationFailed("courseCode", "course code is required")
	}
	return s.listPosts(ctx, gateway.Filters{"course_code": normalized})
}

func (s *EngagementService) listPosts(ctx context.Context, filters gateway.Filters) ([]model.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.gw.Select(ctx, gateway.TablePosts, filters,
		&gateway.Order{Column: "created_at", Descending: true})
	if err != nil {
		return nil, fmt.Errorf("service/engagement: listing posts: %w", err)
	}
	return gateway.Decode[model.Post](rows)
}

// LikePost adds one like to the post. Delegated entirely to the backend's
// atomic increment so N concurrent likes always land as N.
func (s *EngagementService) LikePost(ctx context.Context, postID string) error {
	if postID == "" {
		return apperror.ValidationFailed("postID", "post ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.gw.Increment(ctx, gateway.TablePosts, "likes", gateway.Filters{"id": postID}, 1)
	if err != nil {
		return fmt.Errorf("service/engagement: liking post %s: %w", postID, err)
	}
	return nil
}

// LikeComment adds one like to a comment, same discipline as LikePost.
func (s *EngagementService) LikeComment(ctx context.Context, commentID string) error {
	if commentID == "" {
		return apperror.ValidationFailed("commentID", "comment ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.gw.Increment(ctx, gateway.TableComments, "likes", gateway.Filters{"id": commentID}, 1)
	if err != nil {
		return fmt.Errorf("service/engagement: liking comment %s: %w", commentID, err)
	}
	return nil
}

// AddComment creates a comment and bumps the parent post's comment_count.
//
// The insert is the authoritative write. If the follow-up increment fails,
// the comment is still returned and the miss is logged for the reconcile
// job to repair — surfacing the failure would wrongly tell the user their
// comment was not posted.
func (s *EngagementService) AddComment(ctx context.Context, author *model.Profile, postID, content string) (*model.Comment, error) {
	if !author.Onboarded() {
		return nil, apperror.ValidationFailed("username", "set a username before commenting")
	}
	if postID == "" {
		return nil, apperror.ValidationFailed("postID", "post ID is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "comment content is required")
	}
	if len(content) > MaxCommentLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("comment content must be at most %d characters", MaxCommentLength))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := map[string]any{
		"post_id":  postID,
		"user_id":  author.UserID,
		"username": author.Username,
		"content":  content,
		"likes":    0,
	}
	raw, err := s.gw.Insert(ctx, gateway.TableComments, row)
	if err != nil {
		return nil, fmt.Errorf("service/engagement: creating comment on post %s: %w", postID, err)
	}
	comment, err := gateway.DecodeOne[model.Comment](raw)
	if err != nil {
		return nil, err
	}

	err = s.gw.Increment(ctx, gateway.TablePosts, "comment_count", gateway.Filters{"id": postID}, 1)
	if err != nil {
		// Comment exists; the counter is now stale until reconciliation.
		s.logger.Warn("comment_count increment failed, count stale until reconcile",
			slog.String("postID", postID),
			slog.String("commentID", comment.ID),
			slog.String("error", err.Error()),
		)
	}

	return comment, nil
}

// ListComments returns the comments on a post, newest first.
func (s *EngagementService) ListComments(ctx context.Context, postID string) ([]model.Comment, error) {
	if postID == "" {
		return nil, apperror.ValidationFailed("postID", "post ID is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.gw.Select(ctx, gateway.TableComments, gateway.Filters{"post_id": postID},
		&gateway.Order{Column: "created_at", Descending: true})
	if err != nil {
		return nil, fmt.Errorf("service/engagement: listing comments for post %s: %w", postID, err)
	}
	return gateway.Decode[model.Comment](rows)
}
