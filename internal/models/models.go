package models

import (
	"time"
)

// Placeholders applied when a client leaves an optional field blank.
const (
	DefaultLink   = "#"
	DefaultAuthor = "anonymous"
)

// Post is a submitted link with its upvote counter and the ordered ids
// of the comments posted on it.
type Post struct {
	RowID     uint      `gorm:"primarykey" json:"-" bson:"-"` // storage order only
	Seq       int64     `gorm:"-" json:"-" bson:"seq"`        // storage order in mongo
	ID        string    `gorm:"size:36;not null;uniqueIndex" json:"id" bson:"_id"`
	Title     string    `gorm:"not null" json:"title" bson:"title"`
	Link      string    `gorm:"not null" json:"link" bson:"link"`
	Upvotes   int       `gorm:"not null;default:0" json:"upvotes" bson:"upvotes"`
	Comments  []string  `gorm:"-" json:"comments" bson:"comments"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Comment is a reply on a Post. PostID is set by the server from the
// request path, never by the client.
type Comment struct {
	RowID     uint      `gorm:"primarykey" json:"-" bson:"-"`
	ID        string    `gorm:"size:36;not null;uniqueIndex" json:"id" bson:"_id"`
	Body      string    `gorm:"not null" json:"body" bson:"body"`
	Author    string    `gorm:"not null" json:"author" bson:"author"`
	Upvotes   int       `gorm:"not null;default:0" json:"upvotes" bson:"upvotes"`
	PostID    string    `gorm:"size:36;not null;index" json:"post" bson:"post"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// PostComment links a comment into its post's list. The autoincrement
// ID gives the order of Post.Comments.
type PostComment struct {
	ID        uint   `gorm:"primarykey"`
	PostID    string `gorm:"size:36;not null;index"`
	CommentID string `gorm:"size:36;not null;uniqueIndex"`
}
