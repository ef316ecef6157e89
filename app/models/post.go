package models

import (
	"errors"
	"math"
	"time"
)

// Validate checks if the post meets all validation requirements
func (p *Post) Validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}

	if p.CreatedAt.IsZero() {
		return errors.New("created_at cannot be zero")
	}

	return nil
}

// BeforeCreate sets up any necessary fields before creation
func (p *Post) BeforeCreate() {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
}

// AddComment adds a comment to the post
func (p *Post) AddComment(comment *Comment) error {
	if comment == nil {
		return errors.New("comment cannot be nil")
	}

	comment.PostID = p.ID
	p.Comments = append(p.Comments, comment)
	return nil
}

// AverageRating averages the rated comments attached to the post, rounded to
// one decimal. ok is false when no comment carries a rating.
func (p *Post) AverageRating() (avg float64, ok bool) {
	var sum, n int
	for _, c := range p.Comments {
		if c.Rating == nil {
			continue
		}
		sum += *c.Rating
		n++
	}
	if n == 0 {
		return 0, false
	}
	return math.Round(float64(sum)/float64(n)*10) / 10, true
}
