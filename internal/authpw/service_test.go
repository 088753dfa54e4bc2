package authpw

import (
	"context"
	"errors"
	"testing"

	"validai/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	nextID     int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, email, displayName, passwordHash string) (store.User, error) {
	m.nextID++
	user := store.User{
		ID:           string(rune('a' + m.nextID)),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
	}
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return user, nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "Alex@Example.com",
		Password:    "correct horse",
		DisplayName: "Alex",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if user.Email != "alex@example.com" {
		t.Errorf("expected lowercased email, got %s", user.Email)
	}
	if user.PasswordHash == "correct horse" {
		t.Error("password stored in plaintext")
	}

	got, err := svc.SignIn(ctx, SignInRequest{Email: "alex@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, got.ID)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "alex@example.com",
		Password:    "short",
		DisplayName: "Alex",
	})
	if err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	_, err := svc.SignUp(ctx, SignUpRequest{Email: "alex@example.com", Password: "correct horse", DisplayName: "Alex"})
	if err != nil {
		t.Fatalf("first SignUp failed: %v", err)
	}

	_, err = svc.SignUp(ctx, SignUpRequest{Email: "alex@example.com", Password: "another pass", DisplayName: "Alex Again"})
	if err == nil {
		t.Fatal("expected error for duplicate email")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	_, err := svc.SignUp(ctx, SignUpRequest{Email: "alex@example.com", Password: "correct horse", DisplayName: "Alex"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	_, err = svc.SignIn(ctx, SignInRequest{Email: "alex@example.com", Password: "wrong horse"})
	if err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestSignInRejectsUnknownEmail(t *testing.T) {
	svc := NewService(newMockUserStore())

	_, err := svc.SignIn(context.Background(), SignInRequest{Email: "nobody@example.com", Password: "whatever1"})
	if err == nil {
		t.Fatal("expected error for unknown email")
	}
}
