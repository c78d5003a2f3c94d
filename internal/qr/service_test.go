package qr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkqr/internal/apperr"
)

func identity() Identity {
	return Identity{
		RollNo:       "21A1",
		Name:         "Asha Rao",
		College:      "MIT",
		YearSemester: "3-1",
		Department:   "CSE",
		Section:      "B",
		WhatsApp:     "9000000001",
		Email:        "asha@example.com",
	}
}

func TestFingerprint(t *testing.T) {
	id := identity()
	sum := sha256.Sum256([]byte("21A1-Asha Rao-MIT-3-1-CSE-B-9000000001-asha@example.com"))
	assert.Equal(t, hex.EncodeToString(sum[:]), id.Fingerprint(""))
	assert.NotEqual(t, id.Fingerprint(""), id.Fingerprint("2026-10-14"))
}

func TestSummaryRoundTrip(t *testing.T) {
	id := identity()
	assert.True(t, strings.HasPrefix(id.Summary(), "Roll No: 21A1\nName: Asha Rao\n"))
	assert.Equal(t, id, ParseSummary(id.Summary()))
	assert.Equal(t, id, ParseSummary(strings.ReplaceAll(id.Summary(), "\n", "\r\n")))
}

func TestIssueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, Options{})

	first, err := svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.False(t, first.Existing)
	assert.True(t, strings.HasPrefix(first.Image, "data:image/png;base64,"))

	second, err := svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Image, second.Image)
	assert.Equal(t, first.Hash, second.Hash)

	recs, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestIssueChangedDetailsForSameRollNoConflicts(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	svc := NewService(NewMemoryStore(), Options{Publisher: pub})

	_, err := svc.Issue(ctx, identity())
	require.NoError(t, err)

	changed := identity()
	changed.WhatsApp = "9000000002"
	_, err = svc.Issue(ctx, changed)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Len(t, pub.names, 1)

	recs, err := svc.ByRollNo(ctx, "21A1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestIssueChangedRollNoCreatesNewRecord(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), Options{})

	first, err := svc.Issue(ctx, identity())
	require.NoError(t, err)

	changed := identity()
	changed.RollNo = "21A2"
	second, err := svc.Issue(ctx, changed)
	require.NoError(t, err)
	assert.False(t, second.Existing)
	assert.NotEqual(t, first.Hash, second.Hash)

	recs, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

// rollNoRaceStore hides existing records from the roll-number check, as if
// a concurrent request with other details inserted between check and insert.
type rollNoRaceStore struct {
	*MemoryStore
}

func (r rollNoRaceStore) ListByRollNo(context.Context, string) ([]Record, error) {
	return nil, nil
}

func TestIssueRollNoRaceConflicts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	_, err := mem.Insert(ctx, Record{Hash: "other-details", RollNo: "21A1", Image: "x"})
	require.NoError(t, err)

	_, err = NewService(rollNoRaceStore{mem}, Options{}).Issue(ctx, identity())
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestMemoryStoreRollNoPerDate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	_, err := mem.Insert(ctx, Record{Hash: "a", RollNo: "21A1", IssueDate: "2026-10-14"})
	require.NoError(t, err)
	_, err = mem.Insert(ctx, Record{Hash: "b", RollNo: "21A1", IssueDate: "2026-10-14"})
	assert.ErrorIs(t, err, ErrRollNoTaken)
	_, err = mem.Insert(ctx, Record{Hash: "c", RollNo: "21A1", IssueDate: "2026-10-15"})
	assert.NoError(t, err)
	_, err = mem.Insert(ctx, Record{Hash: "a", RollNo: "21A9"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestIssueDateScoped(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), Options{DateScoped: true})
	day := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }

	first, err := svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.Equal(t, "2026-10-14", first.IssueDate)

	svc.now = func() time.Time { return day.Add(8 * time.Hour) }
	again, err := svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, first.Image, again.Image)

	svc.now = func() time.Time { return day.Add(24 * time.Hour) }
	next, err := svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.False(t, next.Existing)
	assert.Equal(t, "2026-10-15", next.IssueDate)
}

func TestIssueValidation(t *testing.T) {
	id := identity()
	id.Email = "  "
	id.Section = ""
	_, err := NewService(NewMemoryStore(), Options{}).Issue(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "section, email")
}

// racingStore hides the record from the first lookup, as if a concurrent
// request inserted it between lookup and insert.
type racingStore struct {
	*MemoryStore
	hidden bool
}

func (r *racingStore) Get(ctx context.Context, hash string) (Record, error) {
	if !r.hidden {
		r.hidden = true
		return Record{}, ErrNotFound
	}
	return r.MemoryStore.Get(ctx, hash)
}

func TestIssueDuplicateInsertReturnsWinner(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	winner := Record{Hash: identity().Fingerprint(""), RollNo: "21A1", Image: "data:image/png;base64,WINNER"}
	_, err := mem.Insert(ctx, winner)
	require.NoError(t, err)

	svc := NewService(&racingStore{MemoryStore: mem}, Options{})
	got, err := svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.True(t, got.Existing)
	assert.Equal(t, winner.Image, got.Image)
}

type fakePublisher struct {
	names []string
	err   error
}

func (p *fakePublisher) PublishPNG(_ context.Context, png []byte, name string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.names = append(p.names, name)
	return "https://cdn.example/" + name, nil
}

func TestIssueWithPublisher(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	svc := NewService(NewMemoryStore(), Options{Publisher: pub})

	got, err := svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/"+got.Hash+".png", got.Image)

	_, err = svc.Issue(ctx, identity())
	require.NoError(t, err)
	assert.Len(t, pub.names, 1)

	failing := NewService(NewMemoryStore(), Options{Publisher: &fakePublisher{err: errors.New("503")}})
	_, err = failing.Issue(ctx, identity())
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), Options{})
	issued, err := svc.Issue(ctx, identity())
	require.NoError(t, err)

	rec, id, err := svc.Verify(ctx, identity().Summary())
	require.NoError(t, err)
	assert.Equal(t, issued.Hash, rec.Hash)
	assert.Equal(t, "Asha Rao", id.Name)

	forged := identity()
	forged.Name = "Mallory"
	_, _, err = svc.Verify(ctx, forged.Summary())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, _, err = svc.Verify(ctx, "https://example.com")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
