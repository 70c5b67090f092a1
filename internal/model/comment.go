package model

import "time"

// Comment is a reply on a post.
//
// A comment row is authoritative the moment it is inserted. The parent
// post's CommentCount is a best-effort cache updated by a separate atomic
// increment; if that increment fails the comment still exists and the
// reconcile job repairs the count later.
type Comment struct {
	ID        string    `json:"id"         db:"id"`
	PostID    string    `json:"post_id"    db:"post_id"`
	AuthorID  string    `json:"user_id"    db:"user_id"`
	Username  string    `json:"username"   db:"username"`
	Content   string    `json:"content"    db:"content"`
	LikeCount int       `json:"likes"      db:"likes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
