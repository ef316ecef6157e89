package services

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"inkwell/app/logging"
	mailmock "inkwell/app/mailer/mock"
	"inkwell/app/metrics"
	"inkwell/app/models"
	"inkwell/app/repositories"
	"inkwell/app/repositories/mock"
	"inkwell/app/storage"
	"inkwell/app/tokens"
)

const testPassword = "hunter22"

type clock struct{ t time.Time }

func (c *clock) Now() time.Time           { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	ctx    context.Context
	deps   *Dependencies
	store  *mock.Store
	mail   *mailmock.Recorder
	notify *mailmock.Recorder
	files  *storage.Disk
	issuer *tokens.Issuer
	clock  *clock

	accounts  *AccountService
	verify    *VerificationService
	posts     *PostService
	comments  *CommentService
	bookmarks *BookmarkService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer, err := tokens.NewIssuer("test-secret", clk.Now)
	require.NoError(t, err)
	dir := t.TempDir()
	files, err := storage.NewDisk(filepath.Join(dir, "posts"), filepath.Join(dir, "media"))
	require.NoError(t, err)

	f := &fixture{
		ctx:    context.Background(),
		store:  mock.NewStore(),
		mail:   mailmock.NewRecorder(),
		notify: mailmock.NewRecorder(),
		files:  files,
		issuer: issuer,
		clock:  clk,
	}
	f.deps = &Dependencies{
		Store:             f.store,
		Files:             files,
		Mail:              f.mail,
		Notify:            f.notify,
		Tokens:            issuer,
		TTLs:              TokenTTLs{Fresh: 10 * time.Minute, Refresh: 7 * 24 * time.Hour, Reset: 15 * time.Minute},
		Authors:           []string{"Jane Doe"},
		AdminAddress:      "owner@example.com",
		ReservedAddresses: []string{"owner@example.com"},
		SenderAddress:     "blog@example.com",
		PublicURL:         "https://blog.test",
		SessionLifetime:   24 * time.Hour,
		HashCost:          bcrypt.MinCost,
		Logger:            logging.Discard(),
		Metrics:           metrics.New(),
		Now:               clk.Now,
	}
	f.verify = NewVerificationService(f.deps)
	f.accounts = NewAccountService(f.deps, f.verify)
	f.posts = NewPostService(f.deps)
	f.comments = NewCommentService(f.deps)
	f.bookmarks = NewBookmarkService(f.deps, f.posts)
	return f
}

func (f *fixture) subscriber(t *testing.T, username string, verified bool) *models.Identity {
	t.Helper()
	hash, err := f.deps.hashPassword(testPassword)
	require.NoError(t, err)
	sub := models.NewSubscriber(username, username+"@example.com", hash)
	sub.Verified = verified
	sub.CreatedAt = f.clock.Now()
	require.NoError(t, f.store.Update(f.ctx, func(tx repositories.Tx) error {
		return tx.Identities().Create(sub)
	}))
	return sub
}

func (f *fixture) admin(t *testing.T) *models.Identity {
	t.Helper()
	admin, err := f.accounts.ProvisionAdmin(f.ctx, AdminForm{
		Username:  "owner",
		Password1: "first-secret",
		Password2: "second-secret",
	})
	require.NoError(t, err)
	return admin
}

func upload(name, content string) storage.Upload {
	return storage.Upload{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func postHTML(title string, media ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1 id="post_title">` + title + `</h1>`)
	for i, m := range media {
		switch {
		case strings.HasSuffix(m, ".mp3"), strings.HasSuffix(m, ".ogg"), strings.HasSuffix(m, ".wav"):
			b.WriteString(`<audio controls><source src="/media/` + m + `"></audio>`)
		case i == 0:
			b.WriteString(`<img id="post_banner" src="/media/` + m + `">`)
		default:
			b.WriteString(`<img src="/media/` + m + `">`)
		}
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// publish creates a post at url with a single image named after it.
func (f *fixture) publish(t *testing.T, admin *models.Identity, url string) *models.Post {
	t.Helper()
	image := url + ".png"
	post, err := f.posts.CreatePost(f.ctx, admin, NewPost{
		HTML:     upload(url+".html", postHTML("Title of "+url, image)),
		Images:   []storage.Upload{upload(image, "png")},
		Category: string(models.CategoryArticle),
		Author:   "Jane Doe",
		URL:      url,
	})
	require.NoError(t, err)
	return post
}

func (f *fixture) reload(t *testing.T, id int) *models.Identity {
	t.Helper()
	var ident *models.Identity
	require.NoError(t, f.store.View(f.ctx, func(tx repositories.Tx) error {
		var err error
		ident, err = tx.Identities().GetByID(id)
		return err
	}))
	return ident
}

// linkToken pulls the token out of the Link of a recorded message.
func linkToken(t *testing.T, data map[string]any) string {
	t.Helper()
	link, ok := data["Link"].(string)
	require.True(t, ok, "message has no link")
	i := strings.LastIndex(link, "/")
	require.GreaterOrEqual(t, i, 0)
	return link[i+1:]
}

func intPtr(i int) *int { return &i }
