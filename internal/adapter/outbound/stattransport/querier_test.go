package stattransport

import (
	"context"
	"errors"
	"testing"
)

type stubTransport struct {
	name    string
	result  Result
	err     error
	calls   int
}

func (s *stubTransport) Name() string { return s.name }

func (s *stubTransport) QueryStat(_ context.Context, _ string, _ bool) (Result, error) {
	s.calls++
	return s.result, s.err
}

func TestQuerier_FirstSuccessSetsPreference(t *testing.T) {
	a := &stubTransport{name: "http", result: Result{Value: 10, Found: true}}
	b := &stubTransport{name: "cli"}
	q := NewQuerier(a, b)

	res, err := q.QueryStat(context.Background(), "pattern", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value != 10 || !res.Found {
		t.Fatalf("res = %+v", res)
	}
	if q.Preferred() != "http" {
		t.Fatalf("Preferred() = %q, want http", q.Preferred())
	}
}

func TestQuerier_FallsBackOncePreferredFails(t *testing.T) {
	a := &stubTransport{name: "http", err: errors.New("boom")}
	b := &stubTransport{name: "cli", result: Result{Value: 5, Found: true}}
	q := NewQuerier(a, b)

	res, err := q.QueryStat(context.Background(), "pattern", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value != 5 {
		t.Fatalf("res = %+v", res)
	}
	if q.Preferred() != "cli" {
		t.Fatalf("Preferred() = %q, want cli", q.Preferred())
	}
}

func TestQuerier_BothFailReturnsLastError(t *testing.T) {
	a := &stubTransport{name: "http", err: errors.New("http down")}
	b := &stubTransport{name: "cli", err: errors.New("cli down")}
	q := NewQuerier(a, b)

	_, err := q.QueryStat(context.Background(), "pattern", false)
	if err == nil {
		t.Fatal("expected error when both transports fail")
	}
}

func TestQuerier_StickyPreferenceTriedFirst(t *testing.T) {
	a := &stubTransport{name: "http", result: Result{Value: 1, Found: true}}
	b := &stubTransport{name: "cli", result: Result{Value: 2, Found: true}}
	q := NewQuerier(a, b)

	// first call picks http
	if _, err := q.QueryStat(context.Background(), "p", false); err != nil {
		t.Fatal(err)
	}

	// make http start failing; cli should now be tried second, not first,
	// until a success reorders preference.
	a.err = errors.New("now failing")
	a.result = Result{}
	res, err := q.QueryStat(context.Background(), "p", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value != 2 {
		t.Fatalf("res = %+v, want fallback to cli", res)
	}
	if q.Preferred() != "cli" {
		t.Fatalf("Preferred() = %q, want cli after fallback success", q.Preferred())
	}
}

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		in   any
		want uint64
	}{
		{float64(100), 100},
		{float64(-5), 0},
		{"250", 250},
		{"not-a-number", 0},
		{nil, 0},
	}
	for _, c := range cases {
		if got := parseNumeric(c.in); got != c.want {
			t.Errorf("parseNumeric(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseTextFallback(t *testing.T) {
	v, ok := parseTextFallback("some prefix value: 12345 suffix")
	if !ok || v != 12345 {
		t.Errorf("parseTextFallback = (%d, %v), want (12345, true)", v, ok)
	}

	_, ok = parseTextFallback("no value here")
	if ok {
		t.Error("expected no match")
	}
}
