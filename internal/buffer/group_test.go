package buffer

import (
	"testing"
	"time"

	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
)

func mkLine(content string, typ normalize.Type, at time.Time) Line {
	return Line{Content: content, Timestamp: at, Type: typ, Meta: Meta{Repeated: 1}}
}

func TestGroupBreaksOnGap(t *testing.T) {
	base := time.Now()
	lines := []Line{
		mkLine("one", normalize.TypeNormal, base),
		mkLine("two", normalize.TypeNormal, base.Add(time.Second)),
		mkLine("three", normalize.TypeNormal, base.Add(5*time.Second)),
	}

	groups := groupLines(lines)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if len(groups[0]) != 2 || len(groups[1]) != 1 {
		t.Errorf("sizes = %d/%d, want 2/1", len(groups[0]), len(groups[1]))
	}
}

func TestErrorNeverMergesAcrossTypes(t *testing.T) {
	base := time.Now()
	lines := []Line{
		mkLine("building", normalize.TypeNormal, base),
		mkLine("boom", normalize.TypeError, base.Add(time.Millisecond)),
		mkLine("continuing", normalize.TypeNormal, base.Add(2*time.Millisecond)),
	}

	groups := groupLines(lines)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
}

func TestErrorsMergeWithEachOther(t *testing.T) {
	base := time.Now()
	lines := []Line{
		mkLine("boom", normalize.TypeError, base),
		mkLine("stack frame 1", normalize.TypeError, base.Add(time.Millisecond)),
	}

	groups := groupLines(lines)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
}

func TestSuccessIsolatedFromOtherTypes(t *testing.T) {
	base := time.Now()
	lines := []Line{
		mkLine("shipping", normalize.TypeInfo, base),
		mkLine("shipped", normalize.TypeSuccess, base.Add(time.Millisecond)),
	}

	groups := groupLines(lines)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
}

func TestProgressMergesOnlyWithProgress(t *testing.T) {
	base := time.Now()
	lines := []Line{
		mkLine("45%", normalize.TypeProgress, base),
		mkLine("50%", normalize.TypeProgress, base.Add(time.Millisecond)),
		mkLine("details follow", normalize.TypeInfo, base.Add(2*time.Millisecond)),
	}

	groups := groupLines(lines)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Errorf("progress group size = %d, want 2", len(groups[0]))
	}

	// Info followed by progress splits the same way.
	lines = []Line{
		mkLine("details first", normalize.TypeInfo, base),
		mkLine("45%", normalize.TypeProgress, base.Add(time.Millisecond)),
	}
	if got := len(groupLines(lines)); got != 2 {
		t.Errorf("groups = %d, want 2", got)
	}
}

func TestInfoAndNormalMerge(t *testing.T) {
	base := time.Now()
	lines := []Line{
		mkLine("note: step one", normalize.TypeInfo, base),
		mkLine("plain text", normalize.TypeNormal, base.Add(time.Millisecond)),
		mkLine("more code", normalize.TypeCode, base.Add(2*time.Millisecond)),
	}

	groups := groupLines(lines)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
}

func TestGroupCapsAtMaxSize(t *testing.T) {
	base := time.Now()
	var lines []Line
	for i := 0; i < 45; i++ {
		lines = append(lines, mkLine("steady line", normalize.TypeNormal, base))
	}

	groups := groupLines(lines)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if len(groups[0]) != maxGroupSize || len(groups[1]) != maxGroupSize || len(groups[2]) != 5 {
		t.Errorf("sizes = %d/%d/%d, want 20/20/5",
			len(groups[0]), len(groups[1]), len(groups[2]))
	}
}

func TestGroupTypeAggregation(t *testing.T) {
	base := time.Now()
	tests := []struct {
		name  string
		types []normalize.Type
		want  normalize.Type
	}{
		{"warning outranks info", []normalize.Type{normalize.TypeInfo, normalize.TypeWarning, normalize.TypeNormal}, normalize.TypeWarning},
		{"error outranks all", []normalize.Type{normalize.TypeSuccess, normalize.TypeError}, normalize.TypeError},
		{"code outranks progress", []normalize.Type{normalize.TypeProgress, normalize.TypeCode}, normalize.TypeCode},
		{"all normal", []normalize.Type{normalize.TypeNormal, normalize.TypeNormal}, normalize.TypeNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var group []Line
			for _, typ := range tt.types {
				group = append(group, mkLine("x", typ, base))
			}
			if got := groupType(group); got != tt.want {
				t.Errorf("groupType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCombineSkipsBlankAndTrimsTrailing(t *testing.T) {
	base := time.Now()
	group := []Line{
		mkLine("first   ", normalize.TypeNormal, base),
		mkLine("   ", normalize.TypeNormal, base),
		mkLine("second", normalize.TypeNormal, base),
	}

	got := combine(group)
	if got != "first\nsecond" {
		t.Errorf("combine = %q", got)
	}
}

func TestCombineRendersRepeatMarker(t *testing.T) {
	base := time.Now()
	line := mkLine("retrying", normalize.TypeNormal, base)
	line.Meta.Repeated = 4

	got := combine([]Line{line})
	if got != "retrying (repeated 4 times)" {
		t.Errorf("combine = %q", got)
	}
}
