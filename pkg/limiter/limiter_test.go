package limiter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestGateAdmitsInArrivalOrder(t *testing.T) {
	g := NewGate(1)
	release := make(chan struct{})

	go func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	waitFor(t, func() bool { return g.Active() == 1 })

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		waitFor(t, func() bool { return g.Queued() == i+1 })
		// let the waiter reach the semaphore before the next one arrives
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, g.Active())
	assert.Equal(t, 0, g.Queued())
	assert.Equal(t, 1, g.Peak())
}

func TestGateReleasesOnErrorAndPanic(t *testing.T) {
	g := NewGate(1)
	boom := errors.New("boom")

	err := g.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = g.Do(context.Background(), func(context.Context) error { panic("bad input") })
	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "bad input", perr.Value)

	ran := false
	err = g.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "gate stalled after panic")
	assert.Equal(t, 0, g.Active())
}

func TestGateCancelWhileQueued(t *testing.T) {
	g := NewGate(1)
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	waitFor(t, func() bool { return g.Active() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err := g.Do(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	assert.Equal(t, 0, g.Queued())
}

func TestGateNeverExceedsCapacity(t *testing.T) {
	g := NewGate(3)
	var current, maxSeen int32

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(maxSeen), 3)
	assert.Equal(t, int(maxSeen), g.Peak())
}

func TestPerHostCapAgainstServer(t *testing.T) {
	var inFlight, maxInFlight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lim := New(Options{Global: 16, PerHost: 2})
	host := HostKey(srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lim.Schedule(context.Background(), host, func(ctx context.Context) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
				if err != nil {
					return err
				}
				resp, err := srv.Client().Do(req)
				if err != nil {
					return err
				}
				return resp.Body.Close()
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxInFlight)), 2)
	assert.LessOrEqual(t, lim.Hosts.Peak(host), 2)
	assert.Equal(t, 1, lim.Hosts.Hosts())
}

func TestHostsAreIndependent(t *testing.T) {
	lim := New(Options{Global: 8, PerHost: 1})
	blockA := make(chan struct{})

	go func() {
		_ = lim.Schedule(context.Background(), "a.example", func(context.Context) error {
			<-blockA
			return nil
		})
	}()
	waitFor(t, func() bool { return lim.Hosts.Gate("a.example").Active() == 1 })

	done := make(chan struct{})
	go func() {
		_ = lim.Schedule(context.Background(), "b.example", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job for an idle host was blocked by a saturated host")
	}
	close(blockA)
}

func TestOnAdmitReportsScopes(t *testing.T) {
	var mu sync.Mutex
	scopes := map[string]int{}
	lim := New(Options{OnAdmit: func(scope string, wait time.Duration) {
		mu.Lock()
		scopes[scope]++
		mu.Unlock()
	}})

	require.NoError(t, lim.Schedule(context.Background(), "x", func(context.Context) error { return nil }))

	assert.Equal(t, map[string]int{"global": 1, "host": 1}, scopes)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		global  int
		perHost int
	}{
		{name: "zero selects defaults", in: 0, global: 8, perHost: 3},
		{name: "negative selects defaults", in: -4, global: 8, perHost: 3},
		{name: "below minimum", in: 1, global: 2, perHost: 1},
		{name: "in range", in: 5, global: 5, perHost: 5},
		{name: "above maximum", in: 100, global: 48, perHost: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.global, ClampGlobal(tt.in))
			assert.Equal(t, tt.perHost, ClampPerHost(tt.in))
		})
	}
}

func TestHostKey(t *testing.T) {
	assert.Equal(t, "cdn.example.com", HostKey("https://CDN.Example.com:8443/a.png"))
	assert.Equal(t, UnknownHost, HostKey("not a url"))
	assert.Equal(t, UnknownHost, HostKey("://bad"))
	assert.Equal(t, UnknownHost, HostKey(""))
}
