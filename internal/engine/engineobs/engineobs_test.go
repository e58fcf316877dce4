package engineobs

import (
	"context"
	"errors"
	"testing"

	"momentum-bot/internal/types"
)

type stubEngine struct {
	report *types.CycleReport
	err    error
	calls  int
}

func (s *stubEngine) Cycle(ctx context.Context) (*types.CycleReport, error) {
	s.calls++
	return s.report, s.err
}

func TestWrapPassesThrough(t *testing.T) {
	inner := &stubEngine{report: &types.CycleReport{ScanID: "abc", Candidates: 3}}
	report, err := Wrap(inner).Cycle(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("Expected 1 inner call, got %d", inner.calls)
	}
	if report.ScanID != "abc" || report.Candidates != 3 {
		t.Errorf("Expected inner report, got %+v", report)
	}
}

func TestWrapReturnsErrorAndReport(t *testing.T) {
	boom := errors.New("boom")
	inner := &stubEngine{report: &types.CycleReport{ScanID: "x"}, err: boom}
	report, err := Wrap(inner).Cycle(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if report == nil || report.ScanID != "x" {
		t.Errorf("Expected the partial report to be returned, got %+v", report)
	}
}
