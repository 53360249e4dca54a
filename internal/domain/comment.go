package domain

import "time"

const (
	MinCommentRating = 1.0
	MaxCommentRating = 5.0
	MaxCommentLength = 1000
)

// Comment is a user's remark on a recipe, optionally carrying a rating and
// optionally replying to another comment on the same recipe.
type Comment struct {
	ID        string
	RecipeID  string
	UserID    string
	ParentID  *string
	Text      string
	Rating    *float64
	IsEdited   bool
	EditedAt   *time.Time
	LikesCount int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsRated reports whether the comment contributes to its recipe's aggregate.
func (c Comment) IsRated() bool {
	return c.Rating != nil
}

// IsReply reports whether the comment answers another comment.
func (c Comment) IsReply() bool {
	return c.ParentID != nil
}

// CommentCreateParams bundles the fields required to persist a comment.
type CommentCreateParams struct {
	RecipeID string
	UserID   string
	ParentID *string
	Text     string
	Rating   *float64
}

// CommentUpdateParams describes an edit. When RemoveRating is set the rating
// is cleared; otherwise a non-nil Rating replaces the current one and a nil
// Rating leaves it untouched.
type CommentUpdateParams struct {
	Text         string
	Rating       *float64
	RemoveRating bool
	EditedAt     time.Time
}

// Comment orderings supported by list operations.
const (
	CommentSortRecent = "recent"
	CommentSortOldest = "oldest"
)

// Page is offset pagination for comment listings.
type Page struct {
	Number int
	Limit  int
	SortBy string
}

// Normalize applies defaults and bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit <= 0 {
		p.Limit = 20
	} else if p.Limit > 50 {
		p.Limit = 50
	}
	if p.SortBy != CommentSortOldest {
		p.SortBy = CommentSortRecent
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// CommentPage is one page of a comment listing.
type CommentPage struct {
	Items []Comment
	Total int64
	Page  Page
}
