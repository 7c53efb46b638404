package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/urt30plus/urt30t/internal/registry"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadProfileNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.LoadProfile(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndLoadProfile(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	in := Profile{Auth: "snoopy", Name: "|30+|money", Level: registry.LevelModerator, XP: 41.5}
	if err := s.SaveProfile(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadProfile(ctx, "snoopy")
	if err != nil {
		t.Fatal(err)
	}
	if got.Auth != in.Auth || got.Name != in.Name || got.Level != in.Level || got.XP != in.XP {
		t.Errorf("got %+v, want %+v", got, in)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Errorf("timestamps not populated: %+v", got)
	}
}

func TestSaveProfileUpserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.SaveProfile(ctx, Profile{Auth: "snoopy", Name: "old", Level: registry.LevelUser}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProfile(ctx, Profile{Auth: "snoopy", Name: "new", Level: registry.LevelAdmin, XP: 7}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadProfile(ctx, "snoopy")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "new" || got.Level != registry.LevelAdmin || got.XP != 7 {
		t.Errorf("upsert not applied: %+v", got)
	}
}

func TestProfilesAreIndependent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, p := range []Profile{
		{Auth: "alpha", Name: "Alpha", Level: registry.LevelGuest},
		{Auth: "bravo", Name: "Bravo", Level: registry.LevelFriend},
	} {
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LoadProfile(ctx, "bravo")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Bravo" || got.Level != registry.LevelFriend {
		t.Errorf("got %+v", got)
	}
}
