package stattransport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Querier orders two transports by sticky preference: whichever transport
// last succeeded is tried first on the next call, so a flaky transport does
// not cost every caller a doomed first attempt.
type Querier struct {
	transports []Transport
	// preferred holds the index+1 into transports of the last transport to
	// succeed, 0 meaning "no preference yet" (try in configured order).
	preferred atomic.Int32
}

// NewQuerier builds a Querier trying transports in the given order until a
// sticky preference is learned. At least one transport is required.
func NewQuerier(transports ...Transport) *Querier {
	return &Querier{transports: transports}
}

// QueryStat tries the preferred transport first, falling back to the other
// transport(s) once on failure. The last error is returned if all fail.
func (q *Querier) QueryStat(ctx context.Context, pattern string, reset bool) (Result, error) {
	if len(q.transports) == 0 {
		return Result{}, errors.New("stattransport: no transports configured")
	}

	order := q.orderedTransports()

	var lastErr error
	for i, t := range order {
		res, err := t.QueryStat(ctx, pattern, reset)
		if err == nil {
			q.setPreferred(t)
			return res, nil
		}
		lastErr = fmt.Errorf("%s: %w", t.Name(), err)
		if i == 0 && len(order) > 1 {
			continue // fall back once
		}
	}
	return Result{}, lastErr
}

func (q *Querier) orderedTransports() []Transport {
	pref := int(q.preferred.Load())
	if pref == 0 || pref > len(q.transports) {
		return q.transports
	}

	idx := pref - 1
	ordered := make([]Transport, 0, len(q.transports))
	ordered = append(ordered, q.transports[idx])
	for i, t := range q.transports {
		if i != idx {
			ordered = append(ordered, t)
		}
	}
	return ordered
}

func (q *Querier) setPreferred(t Transport) {
	for i, candidate := range q.transports {
		if candidate == t {
			q.preferred.Store(int32(i + 1))
			return
		}
	}
}

// Preferred returns the name of the currently-preferred transport, or "" if
// no preference has been learned yet.
func (q *Querier) Preferred() string {
	pref := int(q.preferred.Load())
	if pref == 0 || pref > len(q.transports) {
		return ""
	}
	return q.transports[pref-1].Name()
}
