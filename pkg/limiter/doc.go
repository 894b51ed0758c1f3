// Package limiter bounds concurrent fetches with FIFO admission gates.
//
// A Gate admits at most N jobs at a time and queues the rest in arrival
// order. Each job moves through queued, active and done; finishing a job
// (normally, with an error, or by panicking) frees its slot for the head of
// the queue. HostGate keeps an independent Gate per host. Limiters nests the
// two so every job holds a global slot and then a slot for its host:
//
//	lim := limiter.New(limiter.Options{Global: 8, PerHost: 3})
//	err := lim.Schedule(ctx, limiter.HostKey(rawURL), func(ctx context.Context) error {
//		return fetch(ctx, rawURL)
//	})
//
// A Limiters value is built per archive and dropped afterwards; nothing is
// shared between requests.
package limiter
