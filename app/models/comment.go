package models

import (
	"errors"
	"time"
)

const (
	MinRating = 0
	MaxRating = 7
)

// Validate checks if the comment meets all validation requirements
func (c *Comment) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.CreatedAt.IsZero() {
		return errors.New("created_at cannot be zero")
	}

	if c.Rating == nil && (c.Text == nil || *c.Text == "") {
		return errors.New("comment needs a rating or text")
	}

	return nil
}

// BeforeCreate sets up any necessary fields before creation
func (c *Comment) BeforeCreate() {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
}

// SetPost sets the parent post and updates the PostID
func (c *Comment) SetPost(post *Post) error {
	if post == nil {
		return errors.New("post cannot be nil")
	}

	c.Post = post
	c.PostID = post.ID
	return nil
}

// RatingInRange reports whether r is an allowed rating value.
func RatingInRange(r int) bool {
	return r >= MinRating && r <= MaxRating
}
