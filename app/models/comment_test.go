package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommentValidation(t *testing.T) {
	tests := []struct {
		name    string
		comment *Comment
		wantErr bool
	}{
		{
			name: "rating only",
			comment: &Comment{
				PostID:    1,
				AuthorID:  2,
				Rating:    intPtr(5),
				CreatedAt: time.Now(),
			},
			wantErr: false,
		},
		{
			name: "text only",
			comment: &Comment{
				PostID:    1,
				AuthorID:  2,
				Text:      strPtr("Thanks for reading"),
				CreatedAt: time.Now(),
			},
			wantErr: false,
		},
		{
			name: "lowest rating",
			comment: &Comment{
				PostID:    1,
				AuthorID:  2,
				Rating:    intPtr(0),
				CreatedAt: time.Now(),
			},
			wantErr: false,
		},
		{
			name: "rating above range",
			comment: &Comment{
				PostID:    1,
				AuthorID:  2,
				Rating:    intPtr(8),
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "negative rating",
			comment: &Comment{
				PostID:    1,
				AuthorID:  2,
				Rating:    intPtr(-1),
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "neither rating nor text",
			comment: &Comment{
				PostID:    1,
				AuthorID:  2,
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "text too long",
			comment: &Comment{
				PostID:    1,
				AuthorID:  2,
				Text:      strPtr(strings.Repeat("a", 501)),
				CreatedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "zero creation time",
			comment: &Comment{
				PostID:   1,
				AuthorID: 2,
				Rating:   intPtr(3),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.comment.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommentBeforeCreate(t *testing.T) {
	comment := &Comment{PostID: 1, AuthorID: 2, Rating: intPtr(4)}

	assert.True(t, comment.CreatedAt.IsZero())
	comment.BeforeCreate()
	assert.False(t, comment.CreatedAt.IsZero())
}

func TestCommentSetPost(t *testing.T) {
	comment := &Comment{ID: 1, AuthorID: 2, Rating: intPtr(4)}

	t.Run("set valid post", func(t *testing.T) {
		post := &Post{ID: 7, URL: "hello-world"}

		err := comment.SetPost(post)
		assert.NoError(t, err)
		assert.Equal(t, post.ID, comment.PostID)
		assert.Equal(t, post, comment.Post)
	})

	t.Run("set nil post", func(t *testing.T) {
		err := comment.SetPost(nil)
		assert.Error(t, err)
	})
}

func TestRatingInRange(t *testing.T) {
	for r := -2; r <= 9; r++ {
		assert.Equal(t, r >= 0 && r <= 7, RatingInRange(r), "rating %d", r)
	}
}
