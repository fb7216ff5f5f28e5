package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"attacher/internal/modules/attach/domain"
	attachout "attacher/internal/modules/attach/port/out"
	"attacher/internal/modules/attach/service"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedID struct{}

func (fixedID) New() string { return "run-1" }

// calls records the protocol steps in order.
type calls struct {
	steps    []string
	argument *string
}

type fakeSession struct {
	log         *calls
	loadErr     error
	loadPanic   any
	detachErr   error
	detachPanic any
}

func (s *fakeSession) LoadManaged(_ context.Context, path string, argument *string) error {
	s.log.steps = append(s.log.steps, "load_managed:"+path)
	s.log.argument = argument
	if s.loadPanic != nil {
		panic(s.loadPanic)
	}
	return s.loadErr
}

func (s *fakeSession) LoadNative(_ context.Context, path string, argument *string) error {
	s.log.steps = append(s.log.steps, "load_native:"+path)
	s.log.argument = argument
	if s.loadPanic != nil {
		panic(s.loadPanic)
	}
	return s.loadErr
}

func (s *fakeSession) Detach(context.Context) error {
	s.log.steps = append(s.log.steps, "detach")
	if s.detachPanic != nil {
		panic(s.detachPanic)
	}
	return s.detachErr
}

type fakeController struct {
	log       *calls
	attachErr error
	session   *fakeSession
}

func (c *fakeController) Attach(_ context.Context, processID string) (attachout.Session, error) {
	c.log.steps = append(c.log.steps, "attach:"+processID)
	if c.attachErr != nil {
		return nil, c.attachErr
	}
	return c.session, nil
}

func (c *fakeController) Close() error {
	c.log.steps = append(c.log.steps, "close")
	return nil
}

type fakeRegistry struct {
	controllers map[string]*fakeController
}

func (r fakeRegistry) Resolve(_ context.Context, name string) (attachout.Controller, error) {
	c, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrControllerNotFound, name)
	}
	return c, nil
}

func (r fakeRegistry) List(context.Context) ([]domain.ControllerInfo, error) {
	return []domain.ControllerInfo{{Name: "fake", Source: domain.SourceBuiltin}}, nil
}

type memoryJournal struct {
	records []domain.RunRecord
	err     error
}

func (j *memoryJournal) Record(_ context.Context, record domain.RunRecord) error {
	j.records = append(j.records, record)
	return j.err
}

func (j *memoryJournal) Recent(_ context.Context, limit int) ([]domain.RunRecord, error) {
	if limit < len(j.records) {
		return j.records[:limit], nil
	}
	return j.records, nil
}

func newFixture(session *fakeSession, attachErr error) (*service.AttachService, *calls, *memoryJournal) {
	log := &calls{}
	session.log = log
	controller := &fakeController{log: log, attachErr: attachErr, session: session}
	journal := &memoryJournal{}
	svc := service.NewAttachService(
		fixedClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		fixedID{},
		nil,
		fakeRegistry{controllers: map[string]*fakeController{"fake": controller}},
		nil,
		nil,
		journal,
	)
	return svc, log, journal
}

func request(native bool, argument *string) domain.AttachRequest {
	return domain.AttachRequest{ControllerType: "fake", ProcessID: "42", ExtensionPath: "/agent", Native: native, Argument: argument}
}

func TestRunDispatchesByNativeFlag(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		native bool
		want   []string
	}{
		{name: "managed", native: false, want: []string{"attach:42", "load_managed:/agent", "detach", "close"}},
		{name: "native", native: true, want: []string{"attach:42", "load_native:/agent", "detach", "close"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, log, journal := newFixture(&fakeSession{}, nil)
			if err := svc.Run(context.Background(), request(tc.native, nil)); err != nil {
				t.Fatalf("run: %v", err)
			}
			if diff := cmp.Diff(tc.want, log.steps); diff != "" {
				t.Fatalf("steps mismatch (-want +got):\n%s", diff)
			}
			if len(journal.records) != 1 || !journal.records[0].Succeeded() {
				t.Fatalf("unexpected journal: %+v", journal.records)
			}
			if journal.records[0].State != domain.StateDetached {
				t.Fatalf("expected detached state, got %s", journal.records[0].State)
			}
		})
	}
}

func TestRunForwardsArgumentCopy(t *testing.T) {
	t.Parallel()
	svc, log, _ := newFixture(&fakeSession{}, nil)
	argument := "k=v"
	if err := svc.Run(context.Background(), request(false, &argument)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if log.argument == nil || *log.argument != "k=v" {
		t.Fatalf("unexpected forwarded argument: %v", log.argument)
	}
	if log.argument == &argument {
		t.Fatalf("expected the session to receive a copy of the argument")
	}

	svc, log, _ = newFixture(&fakeSession{}, nil)
	if err := svc.Run(context.Background(), request(false, nil)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if log.argument != nil {
		t.Fatalf("expected absent argument, got %q", *log.argument)
	}
}

func TestRunDetachesExactlyOnceAfterAttach(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		session *fakeSession
		wantErr error
	}{
		{name: "load ok", session: &fakeSession{}},
		{name: "load error", session: &fakeSession{loadErr: errors.New("rejected")}, wantErr: domain.ErrLoadFailed},
		{name: "load panic", session: &fakeSession{loadPanic: "crash"}, wantErr: domain.ErrLoadFailed},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, log, journal := newFixture(tc.session, nil)
			err := svc.Run(context.Background(), request(false, nil))
			if tc.wantErr == nil && err != nil {
				t.Fatalf("run: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			detaches := 0
			for _, step := range log.steps {
				if step == "detach" {
					detaches++
				}
			}
			if detaches != 1 {
				t.Fatalf("expected one detach, got %d in %v", detaches, log.steps)
			}
			if journal.records[0].State != domain.StateDetached {
				t.Fatalf("expected detached state, got %s", journal.records[0].State)
			}
		})
	}
}

func TestRunNeverDetachesWithoutAttach(t *testing.T) {
	t.Parallel()
	svc, log, journal := newFixture(&fakeSession{}, errors.New("no such process"))
	err := svc.Run(context.Background(), request(false, nil))
	if !errors.Is(err, domain.ErrAttachFailed) {
		t.Fatalf("expected ErrAttachFailed, got %v", err)
	}
	if diff := cmp.Diff([]string{"attach:42", "close"}, log.steps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
	if journal.records[0].Failure != domain.FailureAttach || journal.records[0].State != domain.StateUnattached {
		t.Fatalf("unexpected record: %+v", journal.records[0])
	}

	svc, log, journal = newFixture(&fakeSession{}, nil)
	req := request(false, nil)
	req.ControllerType = "missing"
	err = svc.Run(context.Background(), req)
	if !errors.Is(err, domain.ErrResolutionFailed) || !errors.Is(err, domain.ErrControllerNotFound) {
		t.Fatalf("expected resolution failure, got %v", err)
	}
	if len(log.steps) != 0 {
		t.Fatalf("expected no protocol steps, got %v", log.steps)
	}
	if journal.records[0].Failure != domain.FailureResolution {
		t.Fatalf("unexpected record: %+v", journal.records[0])
	}
}

func TestRunEmptyControllerTypeFailsResolution(t *testing.T) {
	t.Parallel()
	svc, log, _ := newFixture(&fakeSession{}, nil)
	err := svc.Run(context.Background(), domain.AttachRequest{})
	if !errors.Is(err, domain.ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed, got %v", err)
	}
	if len(log.steps) != 0 {
		t.Fatalf("expected no protocol steps, got %v", log.steps)
	}
}

func TestRunFailurePrecedence(t *testing.T) {
	t.Parallel()
	loadErr := errors.New("load rejected")
	detachErr := errors.New("detach broken")

	svc, _, journal := newFixture(&fakeSession{detachErr: detachErr}, nil)
	err := svc.Run(context.Background(), request(false, nil))
	if !errors.Is(err, domain.ErrDetachFailed) || !errors.Is(err, detachErr) {
		t.Fatalf("expected detach failure after successful load, got %v", err)
	}
	if journal.records[0].Failure != domain.FailureDetach {
		t.Fatalf("unexpected failure kind: %s", journal.records[0].Failure)
	}

	svc, _, journal = newFixture(&fakeSession{loadErr: loadErr, detachErr: detachErr}, nil)
	err = svc.Run(context.Background(), request(true, nil))
	if !errors.Is(err, domain.ErrLoadFailed) || !errors.Is(err, loadErr) {
		t.Fatalf("expected load failure to win, got %v", err)
	}
	if errors.Is(err, detachErr) {
		t.Fatalf("detach failure must not be reported after a failed load: %v", err)
	}
	if journal.records[0].Failure != domain.FailureLoad {
		t.Fatalf("unexpected failure kind: %s", journal.records[0].Failure)
	}
}

func TestRunIgnoresJournalErrors(t *testing.T) {
	t.Parallel()
	svc, _, journal := newFixture(&fakeSession{}, nil)
	journal.err = errors.New("disk full")
	if err := svc.Run(context.Background(), request(false, nil)); err != nil {
		t.Fatalf("journal error leaked into run result: %v", err)
	}
}

func TestRunRecordsRequestShape(t *testing.T) {
	t.Parallel()
	svc, _, journal := newFixture(&fakeSession{}, nil)
	argument := ""
	if err := svc.Run(context.Background(), request(true, &argument)); err != nil {
		t.Fatalf("run: %v", err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := domain.RunRecord{
		ID:             "run-1",
		ControllerType: "fake",
		ProcessID:      "42",
		ExtensionPath:  "/agent",
		Mode:           domain.LoadNative,
		HasArgument:    true,
		State:          domain.StateDetached,
		Failure:        domain.FailureNone,
		StartedAt:      at,
		FinishedAt:     at,
	}
	if diff := cmp.Diff(want, journal.records[0]); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRecoversDetachPanic(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		session *fakeSession
		wantErr error
		want    domain.FailureKind
	}{
		{name: "after load success", session: &fakeSession{detachPanic: "detach crash"}, wantErr: domain.ErrDetachFailed, want: domain.FailureDetach},
		{name: "after load failure", session: &fakeSession{loadErr: errors.New("rejected"), detachPanic: "detach crash"}, wantErr: domain.ErrLoadFailed, want: domain.FailureLoad},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, log, journal := newFixture(tc.session, nil)
			err := svc.Run(context.Background(), request(false, nil))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(journal.records) != 1 {
				t.Fatalf("expected the run to be recorded, got %d records", len(journal.records))
			}
			if got := journal.records[0]; got.Failure != tc.want || got.State != domain.StateDetached {
				t.Fatalf("unexpected record: %+v", got)
			}
			if log.steps[len(log.steps)-1] != "close" {
				t.Fatalf("expected controller close after detach panic, got %v", log.steps)
			}
		})
	}
}
