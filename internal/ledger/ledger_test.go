package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/spigell/hh-autopilot/internal/model"
	"github.com/spigell/hh-autopilot/internal/store"
	"github.com/spigell/hh-autopilot/internal/store/memory"
)

func TestRecordIfNew(t *testing.T) {
	Convey("Given an empty ledger", t, func() {
		ctx := context.Background()
		st := memory.New()
		l := New(st)
		meta := Metadata{VacancyName: "Go developer", EmployerName: "Acme", Score: 0.7}

		Convey("The first call records the posting", func() {
			outcome, err := l.RecordIfNew(ctx, "u1", "v1", meta)
			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, Recorded)

			Convey("And the second call reports it as already sent", func() {
				outcome, err := l.RecordIfNew(ctx, "u1", "v1", Metadata{Score: 0.99})
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, AlreadySent)

				count, _ := st.CountSent(ctx, "u1")
				So(count, ShouldEqual, 1)
			})

			Convey("The same posting is still new for another user", func() {
				outcome, err := l.RecordIfNew(ctx, "u2", "v1", meta)
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, Recorded)
			})

			Convey("Sent reports recorded postings only", func() {
				sent, err := l.Sent(ctx, "u1", []string{"v1", "v2"})
				So(err, ShouldBeNil)
				So(sent, ShouldResemble, map[string]bool{"v1": true})
			})
		})

		Convey("Empty identifiers are rejected", func() {
			_, err := l.RecordIfNew(ctx, "", "v1", meta)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRecordIfNewConcurrent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	l := New(st)

	const callers = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded int
		already  int
	)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			outcome, err := l.RecordIfNew(ctx, "u1", "v1", Metadata{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case Recorded:
				recorded++
			case AlreadySent:
				already++
			}
		}()
	}
	close(start)
	wg.Wait()

	if recorded != 1 || already != callers-1 {
		t.Fatalf("expected exactly one recorded outcome, got %d recorded and %d already sent", recorded, already)
	}
}

type failingStore struct{}

func (failingStore) InsertSent(context.Context, *model.SentRecord) (bool, error) {
	return false, store.ErrUnavailable
}

func (failingStore) SentVacancies(context.Context, string, []string) (map[string]bool, error) {
	return nil, store.ErrUnavailable
}

func TestRecordIfNewPropagatesStorageErrors(t *testing.T) {
	l := New(failingStore{})

	if _, err := l.RecordIfNew(context.Background(), "u1", "v1", Metadata{}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := l.Sent(context.Background(), "u1", []string{"v1"}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
