package summarize

import (
	"context"
	"iter"

	"github.com/jmerrifield20/hostscope/internal/normalize"
)

// BatchItem is one completed host in a batch run.
type BatchItem struct {
	Index  int             `json:"index"`
	Host   *normalize.Host `json:"-"`
	IP     string          `json:"ip"`
	Result Result          `json:"result"`
}

type jobResult struct {
	index  int
	result Result
	err    error
}

// SummarizeAll summarises hosts with at most concurrency calls in flight and
// yields results in completion order. Each host is yielded exactly once.
//
// ctx is checked as each job starts. A job that finds ctx done yields
// ctx.Err() once and the sequence ends. Breaking out of the loop cancels any
// jobs still running.
func SummarizeAll(ctx context.Context, s Summarizer, hosts []*normalize.Host, concurrency int) iter.Seq2[BatchItem, error] {
	return func(yield func(BatchItem, error) bool) {
		if len(hosts) == 0 {
			return
		}
		limit := max(1, min(concurrency, len(hosts)))

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Buffered to the window size so running jobs never block on send
		// after the consumer has stopped.
		done := make(chan jobResult, limit)
		next, inFlight := 0, 0

		start := func() {
			i := next
			next++
			inFlight++
			go func() {
				if err := ctx.Err(); err != nil {
					done <- jobResult{index: i, err: err}
					return
				}
				done <- jobResult{index: i, result: s.SummarizeHost(runCtx, hosts[i])}
			}()
		}

		for next < limit {
			start()
		}

		for inFlight > 0 {
			r := <-done
			inFlight--

			item := BatchItem{Index: r.index, Host: hosts[r.index], IP: hosts[r.index].IP, Result: r.result}
			if r.err != nil {
				yield(item, r.err)
				return
			}
			if !yield(item, nil) {
				return
			}
			if next < len(hosts) {
				start()
			}
		}
	}
}
