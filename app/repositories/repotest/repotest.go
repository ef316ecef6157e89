// Package repotest holds the behaviour every repositories.Store
// implementation must share. Each driver runs it from its own tests.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/app/models"
	"inkwell/app/repositories"
)

// Opener returns a fresh, empty store. The store is closed by the caller.
type Opener func(t *testing.T) repositories.Store

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// Run exercises the full repository contract against stores from open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(*testing.T, repositories.Store)
	}{
		{"identity create and lookup", testIdentityCreateAndLookup},
		{"identity uniqueness", testIdentityUniqueness},
		{"identity update", testIdentityUpdate},
		{"identity delete cascades", testIdentityDeleteCascades},
		{"subscriber listing", testSubscriberListing},
		{"post create and lookup", testPostCreateAndLookup},
		{"post listing", testPostListing},
		{"post delete cascades", testPostDeleteCascades},
		{"comments", testComments},
		{"bookmarks", testBookmarks},
		{"sessions", testSessions},
		{"create stamps creation time", testCreateStampsCreationTime},
		{"rollback on error", testRollback},
		{"cancelled context", testCancelledContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { store.Close() })
			tt.fn(t, store)
		})
	}
}

func update(t *testing.T, store repositories.Store, fn func(repositories.Tx) error) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), fn))
}

func view(t *testing.T, store repositories.Store, fn func(repositories.Tx) error) {
	t.Helper()
	require.NoError(t, store.View(context.Background(), fn))
}

func subscriber(name, email string, verified bool, created time.Time) *models.Identity {
	s := models.NewSubscriber(name, email, "hash-"+name)
	s.Verified = verified
	s.CreatedAt = created
	return s
}

func post(url string, category models.Category, created time.Time) *models.Post {
	return &models.Post{
		URL:       url,
		Category:  category,
		HTMLFile:  url + ".html",
		Author:    "Shashank Shetty",
		CreatedAt: created,
	}
}

func seedPost(t *testing.T, store repositories.Store, p *models.Post) *models.Post {
	t.Helper()
	update(t, store, func(tx repositories.Tx) error { return tx.Posts().Create(p) })
	return p
}

func seedIdentity(t *testing.T, store repositories.Store, i *models.Identity) *models.Identity {
	t.Helper()
	update(t, store, func(tx repositories.Tx) error { return tx.Identities().Create(i) })
	return i
}

func testIdentityCreateAndLookup(t *testing.T, store repositories.Store) {
	admin := models.NewAdmin("owner", "h1", "h2")
	admin.CreatedAt = base
	seedIdentity(t, store, admin)
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", false, base))

	assert.Greater(t, admin.ID, 0)
	assert.NotEqual(t, admin.ID, alice.ID)

	view(t, store, func(tx repositories.Tx) error {
		got, err := tx.Identities().GetByUsername("alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)
		assert.Equal(t, "alice@example.com", got.Email())
		assert.Equal(t, models.RoleSubscriber, got.Role)

		got, err = tx.Identities().GetByEmail("alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)

		got, err = tx.Identities().GetByID(admin.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Admin)
		assert.Equal(t, "h2", got.Admin.Password2Hash)
		assert.Nil(t, got.Subscriber)

		_, err = tx.Identities().GetByUsername("bob")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		_, err = tx.Identities().GetByEmail("bob@example.com")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		_, err = tx.Identities().GetByID(999)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		return nil
	})
}

func testIdentityUniqueness(t *testing.T, store repositories.Store) {
	seedIdentity(t, store, subscriber("alice", "alice@example.com", false, base))

	err := store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Identities().Create(subscriber("alice", "other@example.com", false, base))
	})
	assert.ErrorIs(t, err, repositories.ErrDuplicate)

	err = store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Identities().Create(subscriber("alice2", "alice@example.com", false, base))
	})
	assert.ErrorIs(t, err, repositories.ErrDuplicate)
}

func testIdentityUpdate(t *testing.T, store repositories.Store) {
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", false, base))
	seedIdentity(t, store, subscriber("bob", "bob@example.com", false, base))

	update(t, store, func(tx repositories.Tx) error {
		got, err := tx.Identities().GetByID(alice.ID)
		require.NoError(t, err)
		got.Verified = true
		got.Subscriber.PasswordHash = "new-hash"
		return tx.Identities().Update(got)
	})
	view(t, store, func(tx repositories.Tx) error {
		got, err := tx.Identities().GetByEmail("alice@example.com")
		require.NoError(t, err)
		assert.True(t, got.Verified)
		assert.Equal(t, "new-hash", got.Subscriber.PasswordHash)
		return nil
	})

	err := store.Update(context.Background(), func(tx repositories.Tx) error {
		got, err := tx.Identities().GetByID(alice.ID)
		require.NoError(t, err)
		got.Role = models.RoleAdmin
		got.Admin = &models.AdminCredentials{Password1Hash: "a", Password2Hash: "b"}
		got.Subscriber = nil
		return tx.Identities().Update(got)
	})
	assert.ErrorIs(t, err, repositories.ErrRoleChange)

	err = store.Update(context.Background(), func(tx repositories.Tx) error {
		got, err := tx.Identities().GetByID(alice.ID)
		require.NoError(t, err)
		got.Username = "bob"
		return tx.Identities().Update(got)
	})
	assert.ErrorIs(t, err, repositories.ErrDuplicate)

	err = store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Identities().Update(&models.Identity{ID: 999, Username: "x", Role: models.RoleSubscriber})
	})
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func testIdentityDeleteCascades(t *testing.T, store repositories.Store) {
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", true, base))
	bob := seedIdentity(t, store, subscriber("bob", "bob@example.com", true, base))
	p := seedPost(t, store, post("hello", models.CategoryBlog, base))

	var aliceComment, bobComment models.Comment
	update(t, store, func(tx repositories.Tx) error {
		aliceComment = models.Comment{PostID: p.ID, AuthorID: alice.ID, Rating: ptrInt(5), CreatedAt: base}
		bobComment = models.Comment{PostID: p.ID, AuthorID: bob.ID, Rating: ptrInt(3), CreatedAt: base}
		require.NoError(t, tx.Comments().Create(&aliceComment))
		require.NoError(t, tx.Comments().Create(&bobComment))
		_, err := tx.Bookmarks().Add(alice.ID, p.ID)
		require.NoError(t, err)
		return tx.Sessions().Create(&models.Session{ID: "s-alice", IdentityID: alice.ID, CreatedAt: base, ExpiresAt: time.Now().Add(time.Hour)})
	})

	update(t, store, func(tx repositories.Tx) error { return tx.Identities().Delete(alice.ID) })

	view(t, store, func(tx repositories.Tx) error {
		_, err := tx.Identities().GetByUsername("alice")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		_, err = tx.Identities().GetByEmail("alice@example.com")
		assert.ErrorIs(t, err, repositories.ErrNotFound)

		_, err = tx.Comments().GetByID(aliceComment.ID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		_, err = tx.Comments().GetByID(bobComment.ID)
		assert.NoError(t, err, "other authors keep their comments")

		marked, err := tx.Bookmarks().Exists(alice.ID, p.ID)
		require.NoError(t, err)
		assert.False(t, marked)

		_, err = tx.Sessions().Get("s-alice")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		return nil
	})

	// the freed username and email can be reused
	seedIdentity(t, store, subscriber("alice", "alice@example.com", false, base))

	err := store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Identities().Delete(alice.ID)
	})
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func testSubscriberListing(t *testing.T, store repositories.Store) {
	admin := models.NewAdmin("owner", "h1", "h2")
	admin.CreatedAt = base
	seedIdentity(t, store, admin)
	seedIdentity(t, store, subscriber("carol", "carol@example.com", true, base.Add(2*time.Hour)))
	seedIdentity(t, store, subscriber("alice", "alice@example.com", true, base))
	seedIdentity(t, store, subscriber("bob", "bob@example.com", false, base.Add(time.Hour)))

	view(t, store, func(tx repositories.Tx) error {
		subs, err := tx.Identities().ListSubscribers()
		require.NoError(t, err)
		var names []string
		for _, s := range subs {
			names = append(names, s.Username)
		}
		assert.Equal(t, []string{"alice", "bob", "carol"}, names)

		emails, err := tx.Identities().VerifiedSubscriberEmails()
		require.NoError(t, err)
		assert.Equal(t, []string{"alice@example.com", "carol@example.com"}, emails)
		return nil
	})
}

func testPostCreateAndLookup(t *testing.T, store repositories.Store) {
	p := seedPost(t, store, post("hello-world", models.CategoryArticle, base))
	assert.Greater(t, p.ID, 0)

	view(t, store, func(tx repositories.Tx) error {
		got, err := tx.Posts().GetByURL("hello-world")
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, models.CategoryArticle, got.Category)
		assert.Equal(t, "hello-world.html", got.HTMLFile)
		assert.True(t, base.Equal(got.CreatedAt))

		_, err = tx.Posts().GetByURL("missing")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		return nil
	})

	err := store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Posts().Create(post("hello-world", models.CategoryBlog, base))
	})
	assert.ErrorIs(t, err, repositories.ErrDuplicate)

	dupFile := post("other-url", models.CategoryBlog, base)
	dupFile.HTMLFile = "hello-world.html"
	err = store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Posts().Create(dupFile)
	})
	assert.ErrorIs(t, err, repositories.ErrDuplicate)
}

func testPostListing(t *testing.T, store repositories.Store) {
	for i, c := range []models.Category{
		models.CategoryArticle, models.CategoryBlog, models.CategoryArticle,
		models.CategoryProject, models.CategoryArticle,
	} {
		seedPost(t, store, post("post-"+string(rune('a'+i)), c, base.Add(time.Duration(i)*time.Hour)))
	}

	view(t, store, func(tx repositories.Tx) error {
		all, err := tx.Posts().List(repositories.PostFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "post-e", all[0].URL, "newest first")
		assert.Equal(t, "post-a", all[4].URL)

		recent, err := tx.Posts().List(repositories.PostFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "post-d", recent[1].URL)

		articles, err := tx.Posts().List(repositories.PostFilter{Category: models.CategoryArticle, Offset: 1, Limit: 5})
		require.NoError(t, err)
		require.Len(t, articles, 2)
		assert.Equal(t, "post-c", articles[0].URL)
		assert.Equal(t, "post-a", articles[1].URL)

		n, err := tx.Posts().Count(models.CategoryArticle)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		n, err = tx.Posts().Count("")
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		empty, err := tx.Posts().List(repositories.PostFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, empty)
		return nil
	})
}

func testPostDeleteCascades(t *testing.T, store repositories.Store) {
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", true, base))
	doomed := seedPost(t, store, post("doomed", models.CategoryBlog, base))
	kept := seedPost(t, store, post("kept", models.CategoryBlog, base))

	var c1, c2 models.Comment
	update(t, store, func(tx repositories.Tx) error {
		c1 = models.Comment{PostID: doomed.ID, AuthorID: alice.ID, Rating: ptrInt(4), CreatedAt: base}
		c2 = models.Comment{PostID: kept.ID, AuthorID: alice.ID, Rating: ptrInt(6), CreatedAt: base}
		require.NoError(t, tx.Comments().Create(&c1))
		require.NoError(t, tx.Comments().Create(&c2))
		_, err := tx.Bookmarks().Add(alice.ID, doomed.ID)
		require.NoError(t, err)
		_, err = tx.Bookmarks().Add(alice.ID, kept.ID)
		return err
	})

	update(t, store, func(tx repositories.Tx) error { return tx.Posts().Delete(doomed.ID) })

	view(t, store, func(tx repositories.Tx) error {
		_, err := tx.Posts().GetByID(doomed.ID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		_, err = tx.Posts().GetByURL("doomed")
		assert.ErrorIs(t, err, repositories.ErrNotFound)

		_, err = tx.Comments().GetByID(c1.ID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		_, err = tx.Comments().GetByID(c2.ID)
		assert.NoError(t, err)

		marked, err := tx.Bookmarks().ListByIdentity(alice.ID)
		require.NoError(t, err)
		require.Len(t, marked, 1)
		assert.Equal(t, kept.ID, marked[0].ID)
		return nil
	})

	// url and file are free again
	seedPost(t, store, post("doomed", models.CategoryBlog, base))

	err := store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Posts().Delete(9999)
	})
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func testComments(t *testing.T, store repositories.Store) {
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", true, base))
	bob := seedIdentity(t, store, subscriber("bob", "bob@example.com", true, base))
	p := seedPost(t, store, post("hello", models.CategoryBlog, base))
	other := seedPost(t, store, post("other", models.CategoryBlog, base))

	var first, second, elsewhere models.Comment
	update(t, store, func(tx repositories.Tx) error {
		first = models.Comment{PostID: p.ID, AuthorID: alice.ID, Rating: ptrInt(7), Text: ptrString("great"), CreatedAt: base}
		second = models.Comment{PostID: p.ID, AuthorID: bob.ID, Rating: ptrInt(0), CreatedAt: base.Add(time.Minute)}
		elsewhere = models.Comment{PostID: other.ID, AuthorID: alice.ID, Rating: ptrInt(2), CreatedAt: base}
		require.NoError(t, tx.Comments().Create(&first))
		require.NoError(t, tx.Comments().Create(&second))
		return tx.Comments().Create(&elsewhere)
	})

	view(t, store, func(tx repositories.Tx) error {
		comments, err := tx.Comments().ListByPost(p.ID)
		require.NoError(t, err)
		require.Len(t, comments, 2)
		assert.Equal(t, second.ID, comments[0].ID, "newest first")
		require.NotNil(t, comments[0].Rating)
		assert.Equal(t, 0, *comments[0].Rating)
		assert.Nil(t, comments[0].Text)
		require.NotNil(t, comments[1].Text)
		assert.Equal(t, "great", *comments[1].Text)

		n, err := tx.Comments().CountByAuthor(p.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = tx.Comments().CountByAuthor(other.ID, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := tx.Comments().GetByID(elsewhere.ID)
		require.NoError(t, err)
		assert.Equal(t, other.ID, got.PostID)
		return nil
	})

	err := store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Comments().Create(&models.Comment{PostID: 9999, AuthorID: alice.ID, Rating: ptrInt(1), CreatedAt: base})
	})
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	update(t, store, func(tx repositories.Tx) error { return tx.Comments().Delete(first.ID) })
	view(t, store, func(tx repositories.Tx) error {
		_, err := tx.Comments().GetByID(first.ID)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		return nil
	})
	err = store.Update(context.Background(), func(tx repositories.Tx) error {
		return tx.Comments().Delete(first.ID)
	})
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func testBookmarks(t *testing.T, store repositories.Store) {
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", true, base))
	older := seedPost(t, store, post("older", models.CategoryBlog, base))
	newer := seedPost(t, store, post("newer", models.CategoryBlog, base.Add(time.Hour)))

	update(t, store, func(tx repositories.Tx) error {
		changed, err := tx.Bookmarks().Add(alice.ID, older.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = tx.Bookmarks().Add(alice.ID, older.ID)
		require.NoError(t, err)
		assert.False(t, changed, "second add is a no-op")

		changed, err = tx.Bookmarks().Add(alice.ID, newer.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		_, err = tx.Bookmarks().Add(alice.ID, 9999)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		return nil
	})

	view(t, store, func(tx repositories.Tx) error {
		marked, err := tx.Bookmarks().ListByIdentity(alice.ID)
		require.NoError(t, err)
		require.Len(t, marked, 2)
		assert.Equal(t, "newer", marked[0].URL)

		ok, err := tx.Bookmarks().Exists(alice.ID, older.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})

	update(t, store, func(tx repositories.Tx) error {
		changed, err := tx.Bookmarks().Remove(alice.ID, older.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = tx.Bookmarks().Remove(alice.ID, older.ID)
		require.NoError(t, err)
		assert.False(t, changed)
		return nil
	})
}

func testSessions(t *testing.T, store repositories.Store) {
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", true, base))
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	update(t, store, func(tx repositories.Tx) error {
		for _, id := range []string{"s1", "s2"} {
			if err := tx.Sessions().Create(&models.Session{ID: id, IdentityID: alice.ID, CreatedAt: base, ExpiresAt: expires}); err != nil {
				return err
			}
		}
		return nil
	})

	view(t, store, func(tx repositories.Tx) error {
		s, err := tx.Sessions().Get("s1")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, s.IdentityID)
		assert.True(t, expires.Equal(s.ExpiresAt))
		return nil
	})

	update(t, store, func(tx repositories.Tx) error { return tx.Sessions().Delete("s1") })
	view(t, store, func(tx repositories.Tx) error {
		_, err := tx.Sessions().Get("s1")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		_, err = tx.Sessions().Get("s2")
		assert.NoError(t, err)
		return nil
	})

	update(t, store, func(tx repositories.Tx) error { return tx.Sessions().DeleteByIdentity(alice.ID) })
	view(t, store, func(tx repositories.Tx) error {
		_, err := tx.Sessions().Get("s2")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		return nil
	})
}

func testRollback(t *testing.T, store repositories.Store) {
	boom := errors.New("boom")
	err := store.Update(context.Background(), func(tx repositories.Tx) error {
		if err := tx.Posts().Create(post("ghost", models.CategoryBlog, base)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	view(t, store, func(tx repositories.Tx) error {
		_, err := tx.Posts().GetByURL("ghost")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		return nil
	})

	// nothing was reserved by the failed attempt
	seedPost(t, store, post("ghost", models.CategoryBlog, base))
}

func testCancelledContext(t *testing.T, store repositories.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, func(repositories.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = store.View(ctx, func(repositories.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func testCreateStampsCreationTime(t *testing.T, store repositories.Store) {
	alice := seedIdentity(t, store, subscriber("alice", "alice@example.com", true, time.Time{}))
	p := seedPost(t, store, post("undated", models.CategoryBlog, time.Time{}))
	c := &models.Comment{PostID: p.ID, AuthorID: alice.ID, Rating: ptrInt(2)}
	update(t, store, func(tx repositories.Tx) error { return tx.Comments().Create(c) })

	assert.False(t, alice.CreatedAt.IsZero())
	assert.False(t, p.CreatedAt.IsZero())
	assert.False(t, c.CreatedAt.IsZero())

	view(t, store, func(tx repositories.Tx) error {
		gotIdentity, err := tx.Identities().GetByID(alice.ID)
		require.NoError(t, err)
		assert.False(t, gotIdentity.CreatedAt.IsZero())
		gotPost, err := tx.Posts().GetByID(p.ID)
		require.NoError(t, err)
		assert.False(t, gotPost.CreatedAt.IsZero())
		comments, err := tx.Comments().ListByPost(p.ID)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.False(t, comments[0].CreatedAt.IsZero())
		return nil
	})
}
