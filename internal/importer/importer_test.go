package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkqr/internal/attendance"
	"checkqr/internal/qr"
	"checkqr/internal/queue"
	"checkqr/internal/roster"
)

func setup(t *testing.T) (*Importer, *roster.MemoryRepository, *qr.Service) {
	t.Helper()
	repo := roster.NewMemoryRepository()
	codes := qr.NewService(qr.NewMemoryStore(), qr.Options{Size: 64})
	return New(attendance.NewService(repo), codes), repo, codes
}

func TestRunReportsPerRow(t *testing.T) {
	ctx := context.Background()
	im, repo, codes := setup(t)
	rows, err := Parse("s.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	rep, err := im.Run(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)

	ok := rep.Rows[0]
	assert.True(t, ok.Registered)
	assert.NotEmpty(t, ok.QRHash)
	assert.False(t, ok.Failed())

	// 21A2 has no email: the roster accepts it, the QR does not
	bad := rep.Rows[1]
	assert.Equal(t, 4, bad.Line)
	assert.True(t, bad.Registered)
	assert.Empty(t, bad.RosterError)
	assert.Contains(t, bad.QRError, "email")
	assert.Empty(t, bad.QRHash)

	st, err := repo.GetStudent(ctx, "21A1")
	require.NoError(t, err)
	assert.Equal(t, "2021", st.BatchYear)

	again, err := im.Run(ctx, rows[:1])
	require.NoError(t, err)
	assert.True(t, again.Rows[0].QRExisting)
	recs, err := codes.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRunIssuesCodesWithoutBatchColumn(t *testing.T) {
	ctx := context.Background()
	im, repo, codes := setup(t)
	const noBatch = "rollNo,name,college,yearSemester,department,section,whatsapp,email\n" +
		"21A1,Asha Rao,MIT,3-1,CSE,B,9000000001,asha@example.com\n"
	rows, err := Parse("s.csv", strings.NewReader(noBatch))
	require.NoError(t, err)

	rep, err := im.Run(ctx, rows)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 1)
	res := rep.Rows[0]
	assert.False(t, res.Registered)
	assert.Contains(t, res.RosterError, "batch_year")
	assert.NotEmpty(t, res.QRHash)
	assert.Empty(t, res.QRError)
	assert.Equal(t, 1, rep.Failed)

	_, err = repo.GetStudent(ctx, "21A1")
	assert.ErrorIs(t, err, roster.ErrNotFound)
	recs, err := codes.ByRollNo(ctx, "21A1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	im, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows, err := Parse("s.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)

	rep, err := im.Run(ctx, rows)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rep.Rows)
}

func TestJobsRoundTrip(t *testing.T) {
	im, _, _ := setup(t)
	js := NewMemoryJobStore()
	jobs := NewJobs(im, js, queue.NewInMemory(4))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- jobs.Serve(ctx) }()

	rows, err := Parse("s.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	job, err := jobs.Submit(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)

	require.Eventually(t, func() bool {
		got, err := jobs.Get(ctx, job.ID)
		return err == nil && got.Status == JobDone
	}, 2*time.Second, 10*time.Millisecond)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Report)
	assert.Equal(t, 1, got.Report.Succeeded)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestJobsUnknown(t *testing.T) {
	im, _, _ := setup(t)
	jobs := NewJobs(im, NewMemoryJobStore(), queue.NewInMemory(1))
	_, err := jobs.Get(context.Background(), "missing")
	assert.Error(t, err)
	assert.NoError(t, jobs.Handle(context.Background(), queue.Message{Type: "other"}))
}
