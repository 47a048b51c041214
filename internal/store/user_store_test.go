package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vrsandeep/postscan/internal/auth"
	"github.com/vrsandeep/postscan/internal/store"
	"github.com/vrsandeep/postscan/internal/testutil"
)

func TestUserStore_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)

	passwordHash, _ := auth.HashPassword("password123")

	t.Run("Create User Success", func(t *testing.T) {
		user, err := s.CreateUser("testuser", passwordHash, "user")
		if err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		if user.Username != "testuser" {
			t.Errorf("Expected username 'testuser', got '%s'", user.Username)
		}
		if user.CreatedAt.IsZero() {
			t.Error("Expected CreatedAt to be set")
		}
	})

	t.Run("Duplicate Username Rejected", func(t *testing.T) {
		if _, err := s.CreateUser("testuser", passwordHash, "user"); err == nil {
			t.Fatal("Expected error when creating user with duplicate username, but got nil")
		}
	})

	t.Run("Invalid Role Rejected", func(t *testing.T) {
		if _, err := s.CreateUser("root", passwordHash, "superuser"); err == nil {
			t.Fatal("Expected role check to reject 'superuser'")
		}
	})

	t.Run("Get User By Username", func(t *testing.T) {
		user, err := s.GetUserByUsername("testuser")
		if err != nil {
			t.Fatalf("GetUserByUsername failed: %v", err)
		}
		if !auth.CheckPasswordHash("password123", user.PasswordHash) {
			t.Error("Password hash does not match")
		}
	})

	t.Run("Get Non-existent User", func(t *testing.T) {
		if _, err := s.GetUserByUsername("nonexistent"); err == nil {
			t.Fatal("Expected error when getting non-existent user, but got nil")
		}
	})
}

func TestUserStore_UpdatePassword(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)

	passwordHash, _ := auth.HashPassword("password123")
	user, _ := s.CreateUser("operator", passwordHash, "admin")

	newHash, _ := auth.HashPassword("newpassword")
	if err := s.UpdateUserPassword(user.ID, newHash); err != nil {
		t.Fatalf("UpdateUserPassword failed: %v", err)
	}
	updated, _ := s.GetUserByID(user.ID)
	if !auth.CheckPasswordHash("newpassword", updated.PasswordHash) {
		t.Error("Password was not updated correctly")
	}

	if err := s.UpdateUserPassword(9999, newHash); err == nil {
		t.Error("Expected error updating a missing user")
	}
}

func TestUserStore_Sessions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)
	passwordHash, _ := auth.HashPassword("password123")
	user, _ := s.CreateUser("sessionuser", passwordHash, "user")

	t.Run("Create and Get Session", func(t *testing.T) {
		token, err := s.CreateSession(user.ID)
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		if len(token) != 64 {
			t.Fatalf("Expected a 64 char token, got %q", token)
		}

		sessionUser, err := s.GetUserFromSession(token)
		if err != nil {
			t.Fatalf("GetUserFromSession failed: %v", err)
		}
		if sessionUser.ID != user.ID {
			t.Errorf("Session returned wrong user. Expected ID %d, got %d", user.ID, sessionUser.ID)
		}
	})

	t.Run("Expired Session", func(t *testing.T) {
		expiredToken := "expired-token"
		db.Exec("INSERT INTO sessions (token, user_id, expiry) VALUES (?, ?, ?)", expiredToken, user.ID, time.Now().Add(-time.Hour))

		_, err := s.GetUserFromSession(expiredToken)
		if !errors.Is(err, store.ErrSessionExpired) {
			t.Fatalf("Expected ErrSessionExpired, got %v", err)
		}
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", expiredToken).Scan(&count)
		if count != 0 {
			t.Error("Expired session should have been deleted")
		}
	})

	t.Run("Unknown Session", func(t *testing.T) {
		if _, err := s.GetUserFromSession("nope"); !errors.Is(err, store.ErrInvalidSession) {
			t.Fatalf("Expected ErrInvalidSession, got %v", err)
		}
	})

	t.Run("Delete Session", func(t *testing.T) {
		token, _ := s.CreateSession(user.ID)
		if err := s.DeleteSession(token); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}
		if _, err := s.GetUserFromSession(token); err == nil {
			t.Fatal("Expected error after deleting session, but got nil")
		}
	})
}

func TestUserStore_ListAndCount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)

	count, err := s.CountUsers()
	if err != nil {
		t.Fatalf("CountUsers failed on empty DB: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 users, got %d", count)
	}

	passwordHash, _ := auth.HashPassword("password123")
	s.CreateUser("bravo", passwordHash, "user")
	s.CreateUser("alpha", passwordHash, "admin")

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 2 || users[0].Username != "alpha" {
		t.Errorf("Expected [alpha bravo], got %+v", users)
	}

	count, _ = s.CountUsers()
	if count != 2 {
		t.Errorf("Expected 2 users, got %d", count)
	}
}
