package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/app/mailer"
	"inkwell/app/models"
	"inkwell/app/repositories"
	"inkwell/app/storage"
)

func newPostInput(url string) NewPost {
	return NewPost{
		HTML: upload(url+".html", postHTML("Hello", "cover.png", "song.mp3")),
		Images: []storage.Upload{
			upload("cover.png", "png-bytes"),
		},
		Audios: []storage.Upload{
			upload("song.mp3", "mp3-bytes"),
		},
		Category: "Blog",
		Author:   "Jane Doe",
		URL:      url,
	}
}

func TestCreatePost(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.subscriber(t, "alice", true)
	f.subscriber(t, "bob", true)
	f.subscriber(t, "carol", false)

	post, err := f.posts.CreatePost(f.ctx, admin, newPostInput("hello-world"))
	require.NoError(t, err)
	assert.NotZero(t, post.ID)
	assert.Equal(t, "hello-world.html", post.HTMLFile)
	assert.Equal(t, models.CategoryBlog, post.Category)

	for _, name := range []string{"cover.png", "song.mp3"} {
		ok, err := f.files.Exists(storage.Media, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}

	sent := f.notify.ByTemplate(mailer.TemplateNewPost)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"blog@example.com"}, sent[0].To)
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, sent[0].Bcc)
	assert.Equal(t, "Hello", sent[0].Data["Title"])
	assert.Equal(t, "https://blog.test/posts/hello-world", sent[0].Data["Link"])
}

func TestCreatePostSkipsAnnouncementWithoutSubscribers(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.subscriber(t, "carol", false)

	_, err := f.posts.CreatePost(f.ctx, admin, newPostInput("quiet"))
	require.NoError(t, err)
	assert.Empty(t, f.notify.Messages())
}

func TestCreatePostRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	alice := f.subscriber(t, "alice", true)

	_, err := f.posts.CreatePost(f.ctx, alice, newPostInput("sneaky"))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.posts.CreatePost(f.ctx, nil, newPostInput("sneaky"))
	assert.ErrorIs(t, err, ErrForbidden)

	ok, err := f.files.Exists(storage.Documents, "sneaky.html")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreatePostValidation(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)

	tests := []struct {
		name   string
		modify func(*NewPost)
	}{
		{"missing url", func(p *NewPost) { p.URL = " " }},
		{"url with slash", func(p *NewPost) { p.URL = "a/b" }},
		{"url shadowed by recent route", func(p *NewPost) { p.URL = "recent" }},
		{"unknown category", func(p *NewPost) { p.Category = "Recipe" }},
		{"unknown author", func(p *NewPost) { p.Author = "Somebody Else" }},
		{"document not html", func(p *NewPost) { p.HTML = upload("post.txt", "x") }},
		{"missing document", func(p *NewPost) { p.HTML = storage.Upload{} }},
		{"no images", func(p *NewPost) { p.Images = nil }},
		{"image extension", func(p *NewPost) { p.Images = []storage.Upload{upload("cover.bmp", "x")} }},
		{"audio extension", func(p *NewPost) { p.Audios = []storage.Upload{upload("song.flac", "x")} }},
		{"name sanitizes to nothing", func(p *NewPost) { p.Images = []storage.Upload{upload("???", "x")} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newPostInput("valid")
			tt.modify(&in)
			_, err := f.posts.CreatePost(f.ctx, admin, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	ok, err := f.files.Exists(storage.Media, "cover.png")
	require.NoError(t, err)
	assert.False(t, ok, "nothing is written for rejected posts")
}

func TestCreatePostAudioIsOptional(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	in := newPostInput("no-audio")
	in.Audios = nil

	_, err := f.posts.CreatePost(f.ctx, admin, in)
	assert.NoError(t, err)
}

func TestCreatePostDuplicateURLWritesNothing(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	_, err := f.posts.CreatePost(f.ctx, admin, newPostInput("hello-world"))
	require.NoError(t, err)

	dup := NewPost{
		HTML:     upload("other.html", postHTML("Other", "other.png")),
		Images:   []storage.Upload{upload("other.png", "png")},
		Category: "Article",
		Author:   "Jane Doe",
		URL:      "hello-world",
	}
	_, err = f.posts.CreatePost(f.ctx, admin, dup)
	assert.ErrorIs(t, err, ErrConflict)

	for _, c := range []struct {
		bucket storage.Bucket
		name   string
	}{{storage.Documents, "other.html"}, {storage.Media, "other.png"}} {
		ok, err := f.files.Exists(c.bucket, c.name)
		require.NoError(t, err)
		assert.False(t, ok, c.name)
	}
}

func TestCreatePostFileCollision(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	_, err := f.posts.CreatePost(f.ctx, admin, newPostInput("first"))
	require.NoError(t, err)

	// same media names under a new url
	second := newPostInput("second")
	_, err = f.posts.CreatePost(f.ctx, admin, second)
	assert.ErrorIs(t, err, ErrConflict)
	ok, err := f.files.Exists(storage.Documents, "second.html")
	require.NoError(t, err)
	assert.False(t, ok)

	// same document name under a new url
	third := newPostInput("third")
	third.HTML = upload("first.html", "x")
	third.Images = []storage.Upload{upload("third.png", "png")}
	third.Audios = nil
	_, err = f.posts.CreatePost(f.ctx, admin, third)
	assert.ErrorIs(t, err, ErrConflict)
	ok, err = f.files.Exists(storage.Media, "third.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreatePostLeavesFilesWhenRowFails(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.deps.Store = failingUpdates{Store: f.store, err: errors.New("disk full")}

	_, err := f.posts.CreatePost(f.ctx, admin, newPostInput("leaky"))
	require.Error(t, err)

	ok, err := f.files.Exists(storage.Documents, "leaky.html")
	require.NoError(t, err)
	assert.True(t, ok)
}

// failingUpdates lets reads through and fails every write transaction.
type failingUpdates struct {
	repositories.Store
	err error
}

func (s failingUpdates) Update(context.Context, func(repositories.Tx) error) error {
	return s.err
}

func TestDeletePost(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.subscriber(t, "alice", true)
	post, err := f.posts.CreatePost(f.ctx, admin, newPostInput("hello-world"))
	require.NoError(t, err)
	_, err = f.comments.CreateComment(f.ctx, alice, post.ID, CommentInput{Rating: intPtr(5)})
	require.NoError(t, err)
	_, err = f.bookmarks.MarkPost(f.ctx, alice, alice.ID, post.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.posts.DeletePost(f.ctx, alice, post.ID), ErrForbidden)

	require.NoError(t, f.posts.DeletePost(f.ctx, admin, post.ID))
	for _, c := range []struct {
		bucket storage.Bucket
		name   string
	}{{storage.Documents, "hello-world.html"}, {storage.Media, "cover.png"}, {storage.Media, "song.mp3"}} {
		ok, err := f.files.Exists(c.bucket, c.name)
		require.NoError(t, err)
		assert.False(t, ok, c.name)
	}

	err = f.store.View(f.ctx, func(tx repositories.Tx) error {
		comments, err := tx.Comments().ListByPost(post.ID)
		require.NoError(t, err)
		assert.Empty(t, comments)
		marked, err := tx.Bookmarks().ListByIdentity(alice.ID)
		require.NoError(t, err)
		assert.Empty(t, marked)
		_, err = tx.Posts().GetByID(post.ID)
		return err
	})
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	assert.ErrorIs(t, f.posts.DeletePost(f.ctx, admin, post.ID), ErrNotFound)
}

func TestDeletePostToleratesMissingMedia(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	post, err := f.posts.CreatePost(f.ctx, admin, newPostInput("hello-world"))
	require.NoError(t, err)
	require.NoError(t, f.files.Delete(storage.Media, "song.mp3"))

	require.NoError(t, f.posts.DeletePost(f.ctx, admin, post.ID))
	ok, err := f.files.Exists(storage.Media, "cover.png")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = f.posts.Show(f.ctx, nil, "hello-world")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePostKeepsMediaOfRemoteImages(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.publish(t, admin, "logo")

	remote := `<h1 id="post_title">Links</h1>` +
		`<img id="post_banner" src="/media/links.png">` +
		`<img src="https://cdn.example.org/assets/logo.png">` +
		`<img src="/assets/logo.png">`
	post, err := f.posts.CreatePost(f.ctx, admin, NewPost{
		HTML:     upload("links.html", remote),
		Images:   []storage.Upload{upload("links.png", "png")},
		Category: string(models.CategoryBlog),
		Author:   "Jane Doe",
		URL:      "links",
	})
	require.NoError(t, err)

	require.NoError(t, f.posts.DeletePost(f.ctx, admin, post.ID))

	ok, err := f.files.Exists(storage.Media, "logo.png")
	require.NoError(t, err)
	assert.True(t, ok, "logo.png belongs to another post")
	ok, err = f.files.Exists(storage.Media, "links.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletePostToleratesMissingDocument(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	post, err := f.posts.CreatePost(f.ctx, admin, newPostInput("hello-world"))
	require.NoError(t, err)
	require.NoError(t, f.files.Delete(storage.Documents, "hello-world.html"))

	require.NoError(t, f.posts.DeletePost(f.ctx, admin, post.ID))
	_, err = f.posts.Show(f.ctx, nil, "hello-world")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndRecent(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	for i, url := range []string{"one", "two", "three"} {
		in := NewPost{
			HTML:     upload(url+".html", postHTML("Post "+url, url+".png")),
			Images:   []storage.Upload{upload(url+".png", "png")},
			Category: string(models.Categories[i%2]),
			Author:   "Jane Doe",
			URL:      url,
		}
		_, err := f.posts.CreatePost(f.ctx, admin, in)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	recent, err := f.posts.Recent(f.ctx)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "three", recent[0].URL)
	assert.Equal(t, "Post three", recent[0].Title)
	assert.Equal(t, "/media/three.png", recent[0].Banner)

	page, err := f.posts.List(f.ctx, "Article", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Posts, 2)
	assert.Equal(t, "three", page.Posts[0].URL)
	assert.Equal(t, "one", page.Posts[1].URL)

	page, err = f.posts.List(f.ctx, "", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "one", page.Posts[0].URL)

	_, err = f.posts.List(f.ctx, "Recipe", 1, 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestShowPost(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.subscriber(t, "alice", true)
	bob := f.subscriber(t, "bob", true)
	post := f.publish(t, admin, "hello-world")

	_, err := f.comments.CreateComment(f.ctx, alice, post.ID, CommentInput{Rating: intPtr(5)})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.comments.CreateComment(f.ctx, bob, post.ID, CommentInput{Rating: intPtr(2), Text: "meh"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.comments.CreateComment(f.ctx, admin, post.ID, CommentInput{Text: "thanks both"})
	require.NoError(t, err)
	_, err = f.bookmarks.MarkPost(f.ctx, alice, alice.ID, post.ID)
	require.NoError(t, err)

	view, err := f.posts.Show(f.ctx, alice, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Title of hello-world", view.Title)
	require.Len(t, view.Comments, 3)
	assert.Equal(t, "owner", view.Comments[0].AuthorName)
	assert.Equal(t, "bob", view.Comments[1].AuthorName)
	assert.Equal(t, "alice", view.Comments[2].AuthorName)
	require.NotNil(t, view.AverageRating)
	assert.Equal(t, 3.5, *view.AverageRating)
	assert.Equal(t, 1, view.MyComments)
	assert.True(t, view.Bookmarked)

	anon, err := f.posts.Show(f.ctx, nil, "hello-world")
	require.NoError(t, err)
	assert.Zero(t, anon.MyComments)
	assert.False(t, anon.Bookmarked)

	_, err = f.posts.Show(f.ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShowPostWithoutRatings(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.publish(t, admin, "quiet")

	view, err := f.posts.Show(f.ctx, admin, "quiet")
	require.NoError(t, err)
	assert.Nil(t, view.AverageRating)
	assert.Empty(t, view.Comments)
}
