package qr

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"

	"checkqr/internal/apperr"
	"checkqr/internal/metrics"
)

// Options tunes issuance.
type Options struct {
	// Size is the PNG edge length in pixels.
	Size int
	// DateScoped adds the issue date to the fingerprint, so one code is
	// issued per identity per day.
	DateScoped bool
	// Publisher, when set, hosts the image and the record keeps its URL
	// instead of an inline data URL.
	Publisher Publisher
}

// Issued is the outcome of Issue.
type Issued struct {
	Record
	// Existing is true when the record was issued by an earlier call.
	Existing bool `json:"existing"`
}

// Service issues and verifies QR codes.
type Service struct {
	store Store
	opts  Options
	now   func() time.Time
}

// NewService creates a service backed by store.
func NewService(store Store, opts Options) *Service {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	return &Service{store: store, opts: opts, now: time.Now}
}

func (s *Service) issueDate() string {
	if !s.opts.DateScoped {
		return ""
	}
	return s.now().Format(DateLayout)
}

// Issue returns the code for id, creating it on first request. Repeat
// requests return the stored record unchanged.
func (s *Service) Issue(ctx context.Context, id Identity) (Issued, error) {
	id = id.Normalize()
	if missing := id.Missing(); len(missing) > 0 {
		return Issued{}, apperr.Validation("all fields are required, missing: %s", strings.Join(missing, ", "))
	}
	date := s.issueDate()
	hash := id.Fingerprint(date)

	rec, err := s.store.Get(ctx, hash)
	if err == nil {
		metrics.QRIssued.WithLabelValues("existing").Inc()
		return Issued{Record: rec, Existing: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Issued{}, apperr.Storage(err, "lookup qr")
	}
	if err := s.checkRollNo(ctx, id.RollNo, date, hash); err != nil {
		return Issued{}, err
	}

	image, err := s.render(ctx, id, hash)
	if err != nil {
		return Issued{}, err
	}
	rec, err = s.store.Insert(ctx, Record{
		Hash:      hash,
		RollNo:    id.RollNo,
		Image:     image,
		IssueDate: date,
		CreatedAt: s.now().UTC(),
	})
	if errors.Is(err, ErrRollNoTaken) {
		// both constraints can fire for the same identity; the fingerprint decides
		if _, getErr := s.store.Get(ctx, hash); getErr == nil {
			err = ErrDuplicate
		}
	}
	if errors.Is(err, ErrDuplicate) {
		// lost a race with a concurrent issue; the stored record wins
		rec, err = s.store.Get(ctx, hash)
		if err != nil {
			return Issued{}, apperr.Storage(err, "reload qr")
		}
		metrics.QRIssued.WithLabelValues("existing").Inc()
		return Issued{Record: rec, Existing: true}, nil
	}
	if errors.Is(err, ErrRollNoTaken) {
		return Issued{}, rollNoConflict(id.RollNo)
	}
	if err != nil {
		return Issued{}, apperr.Storage(err, "insert qr")
	}
	metrics.QRIssued.WithLabelValues("created").Inc()
	return Issued{Record: rec}, nil
}

// checkRollNo rejects a new identity for a roll number that already holds a
// record for date, before anything is rendered or published. A record with
// the same fingerprint is left to the insert.
func (s *Service) checkRollNo(ctx context.Context, rollNo, date, hash string) error {
	recs, err := s.store.ListByRollNo(ctx, rollNo)
	if err != nil {
		return apperr.Storage(err, "lookup qr by roll number")
	}
	for _, r := range recs {
		if r.IssueDate == date && r.Hash != hash {
			return rollNoConflict(rollNo)
		}
	}
	return nil
}

func rollNoConflict(rollNo string) error {
	metrics.QRIssued.WithLabelValues("conflict").Inc()
	return apperr.Conflict("a qr code with different details is already issued to roll number %q", rollNo)
}

func (s *Service) render(ctx context.Context, id Identity, hash string) (string, error) {
	png, err := qrcode.Encode(id.Summary(), qrcode.Medium, s.opts.Size)
	if err != nil {
		return "", errors.Wrap(err, "encode qr")
	}
	if s.opts.Publisher != nil {
		url, err := s.opts.Publisher.PublishPNG(ctx, png, hash+".png")
		if err != nil {
			return "", errors.Wrap(err, "publish qr")
		}
		return url, nil
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Verify checks scanned content against the issued records. In the
// date-scoped mode only today's code verifies.
func (s *Service) Verify(ctx context.Context, content string) (Record, Identity, error) {
	id := ParseSummary(content).Normalize()
	if missing := id.Missing(); len(missing) > 0 {
		return Record{}, id, apperr.Validation("scanned code is not a student code, missing: %s", strings.Join(missing, ", "))
	}
	rec, err := s.Get(ctx, id.Fingerprint(s.issueDate()))
	return rec, id, err
}

// Get returns the record with the given fingerprint.
func (s *Service) Get(ctx context.Context, hash string) (Record, error) {
	rec, err := s.store.Get(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return Record{}, apperr.NotFound("qr code not issued")
	}
	if err != nil {
		return Record{}, apperr.Storage(err, "get qr")
	}
	return rec, nil
}

// List returns every issued record, newest first.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "list qr")
	}
	return recs, nil
}

// ByRollNo returns the records issued to a roll number.
func (s *Service) ByRollNo(ctx context.Context, rollNo string) ([]Record, error) {
	recs, err := s.store.ListByRollNo(ctx, strings.TrimSpace(rollNo))
	if err != nil {
		return nil, apperr.Storage(err, "list qr by roll number")
	}
	return recs, nil
}
