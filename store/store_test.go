package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zapdesk/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, nil), mr
}

func TestGetStateDefaultsToInicio(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetState(ctx, "55119")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Step != models.StepInicio {
		t.Fatalf("step = %s, want INICIO", st.Step)
	}
}

func TestUpdateStateMergesFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SetStep(ctx, "c1", models.StepInQueue); err != nil {
		t.Fatalf("set step: %v", err)
	}
	if err := s.UpdateState(ctx, "c1", map[string]string{"name": "Ana"}); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if err := s.UpdateState(ctx, "c1", map[string]string{"name": "Bia"}); err != nil {
		t.Fatalf("update state: %v", err)
	}

	st, err := s.GetState(ctx, "c1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Step != models.StepInQueue {
		t.Fatalf("step = %s", st.Step)
	}
	if st.Fields["name"] != "Bia" {
		t.Fatalf("name = %q, want last writer", st.Fields["name"])
	}
}

func TestUnknownStepReadsAsInicio(t *testing.T) {
	s, mr := newTestStore(t)
	mr.HSet(sessionKey("c1"), "step", "BOGUS")

	st, err := s.GetState(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Step != models.StepInicio {
		t.Fatalf("step = %s", st.Step)
	}
}

func TestSessionExpiresButHistoryStays(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.SetStep(ctx, "c1", models.StepInQueue); err != nil {
		t.Fatalf("set step: %v", err)
	}
	if _, err := s.AppendHistory(ctx, "c1", models.SenderUser, "Oi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.SetTTL(ctx, "c1", time.Hour); err != nil {
		t.Fatalf("set ttl: %v", err)
	}
	if got := mr.TTL(historyKey("c1")); got != 0 {
		t.Fatalf("history ttl = %s, want none", got)
	}

	mr.FastForward(time.Hour + time.Second)

	st, err := s.GetState(ctx, "c1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Step != models.StepInicio {
		t.Fatalf("step after expiry = %s", st.Step)
	}
	h, err := s.FullHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h) != 1 {
		t.Fatalf("history len = %d", len(h))
	}
}

func TestAppendThenRecentRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.AppendHistory(ctx, "c1", models.SenderBot, "olá")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if n != 1 {
		t.Fatalf("length = %d", n)
	}
	got, err := s.RecentHistory(ctx, "c1", 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Sender != models.SenderBot || got[0].Text != "olá" {
		t.Fatalf("recent = %+v", got)
	}
}

func TestRecentHistoryIsChronological(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"um", "dois", "tres", "quatro"} {
		if _, err := s.AppendHistory(ctx, "c1", models.SenderUser, text); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.RecentHistory(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "tres" || got[1].Text != "quatro" {
		t.Fatalf("recent = %+v", got)
	}

	all, err := s.FullHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	want := []string{"um", "dois", "tres", "quatro"}
	for i, e := range all {
		if e.Text != want[i] {
			t.Fatalf("full[%d] = %q, want %q", i, e.Text, want[i])
		}
	}

	none, err := s.RecentHistory(ctx, "c1", 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("recent(0) = %v, %v", none, err)
	}
}

func TestQueueFIFO(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		pos, err := s.Enqueue(ctx, id)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if pos != int64(i+1) {
			t.Fatalf("position of %s = %d", id, pos)
		}
	}

	in, err := s.Contains(ctx, "b")
	if err != nil || !in {
		t.Fatalf("contains b = %v, %v", in, err)
	}
	in, err = s.Contains(ctx, "z")
	if err != nil || in {
		t.Fatalf("contains z = %v, %v", in, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok, err := s.PopBlocking(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("pop: %v ok=%v", err, ok)
		}
		if got != want {
			t.Fatalf("pop = %s, want %s", got, want)
		}
	}
}

func TestPushFrontKeepsTurn(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Enqueue(ctx, "a")
	s.Enqueue(ctx, "b")
	got, ok, err := s.PopBlocking(ctx, time.Second)
	if err != nil || !ok || got != "a" {
		t.Fatalf("pop = %q %v %v", got, ok, err)
	}
	if err := s.PushFront(ctx, "a"); err != nil {
		t.Fatalf("push front: %v", err)
	}

	items, _ := s.Items(ctx)
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("queue = %v, want [a b]", items)
	}
}

func TestPopBlockingTimesOutEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	start := time.Now()
	_, ok, err := s.PopBlocking(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if ok {
		t.Fatalf("expected empty result")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("pop blocked too long")
	}
}

func TestRemoveFromQueue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	removed, err := s.Remove(ctx, "b")
	if err != nil || !removed {
		t.Fatalf("remove = %v, %v", removed, err)
	}
	removed, err = s.Remove(ctx, "b")
	if err != nil || removed {
		t.Fatalf("second remove = %v, %v", removed, err)
	}
	items, err := s.Items(ctx)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 || items[0] != "a" || items[1] != "c" {
		t.Fatalf("items = %v", items)
	}
}

func TestCheckAndMark(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	first, err := s.CheckAndMark(ctx, "m1", time.Hour)
	if err != nil || !first {
		t.Fatalf("first = %v, %v", first, err)
	}
	again, err := s.CheckAndMark(ctx, "m1", time.Hour)
	if err != nil || again {
		t.Fatalf("again = %v, %v", again, err)
	}
	if ttl := mr.TTL(processedKey("m1")); ttl != time.Hour {
		t.Fatalf("marker ttl = %s", ttl)
	}

	if err := s.Forget(ctx, "m1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	first, err = s.CheckAndMark(ctx, "m1", time.Hour)
	if err != nil || !first {
		t.Fatalf("after forget = %v, %v", first, err)
	}
}

func TestCheckAndMarkConcurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CheckAndMark(ctx, "m-race", time.Hour)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if ok {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	if firsts.Load() != 1 {
		t.Fatalf("first-seen count = %d, want 1", firsts.Load())
	}
}

func TestNotifyReachesSubscriber(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := s.Notify(ctx, "55119"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case got := <-sub.C():
		if got != "55119" {
			t.Fatalf("payload = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestNotifyWithoutSubscriberIsDropped(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Notify(context.Background(), "c1"); err != nil {
		t.Fatalf("notify: %v", err)
	}
}
