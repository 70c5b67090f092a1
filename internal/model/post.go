package model

import "time"

// Post is a course-scoped discussion post.
//
// Content and authorship are immutable after creation; only the engagement
// counters change, and only through the backend's atomic increment. The
// counters are therefore a cache of backend truth — never computed client
// side and written back.
//
// Username is denormalized onto the row so the feed renders without a join;
// posts are anonymous to readers only in the sense that the username is a
// pseudonym, not the user's real identity.
type Post struct {
	ID           string    `json:"id"            db:"id"`
	AuthorID     string    `json:"user_id"       db:"user_id"`
	Username     string    `json:"username"      db:"username"`
	Content      string    `json:"content"       db:"content"`
	CourseCode   string    `json:"course_code"   db:"course_code"`
	LikeCount    int       `json:"likes"         db:"likes"`
	CommentCount int       `json:"comment_count" db:"comment_count"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"`
}
