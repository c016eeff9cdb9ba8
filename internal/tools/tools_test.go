package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/stanfix/internal/gate"
	"github.com/metalagman/stanfix/internal/llm/openaiapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	decision gate.Decision
	err      error
	calls    int
}

func (f *fakeGate) Evaluate(_ context.Context, _, _ string) (gate.Decision, error) {
	f.calls++
	return f.decision, f.err
}

type analyzerCall struct {
	level       int
	directories string
}

type fakeAnalyzer struct {
	lines []string
	err   error
	calls []analyzerCall
}

func (f *fakeAnalyzer) Run(_ context.Context, level int, directories string) ([]string, error) {
	f.calls = append(f.calls, analyzerCall{level: level, directories: directories})
	return f.lines, f.err
}

type fakeGuard struct {
	current  int
	refuse   map[int]string
	observed []int
}

func (g *fakeGuard) Current() int { return g.current }

func (g *fakeGuard) Admit(_ context.Context, level int) (string, error) {
	return g.refuse[level], nil
}

func (g *fakeGuard) Observe(level int, _ []string) {
	g.observed = append(g.observed, level)
}

func newSurface(t *testing.T, g Evaluator, a Analyzer, opts ...Option) (*Surface, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewSurface(Config{Root: root}, g, a, opts...)
	require.NoError(t, err)
	return s, root
}

func TestNewSurface_RegistersClosedTable(t *testing.T) {
	t.Parallel()

	s, _ := newSurface(t, &fakeGate{}, &fakeAnalyzer{})
	caps := s.Capabilities()
	require.Len(t, caps, 3)
	assert.Equal(t, ReadFileName, caps[0].Name)
	assert.Equal(t, WriteFileName, caps[1].Name)
	assert.Equal(t, RunPHPStanName, caps[2].Name)
	for _, c := range caps {
		assert.NotEmpty(t, c.Description)
		assert.NotNil(t, c.Handler)
	}
}

func TestCapabilities_ParametersAreValidJSONSchema(t *testing.T) {
	t.Parallel()

	s, err := NewSurface(Config{Root: t.TempDir(), Directories: `app "legacy"`, MaxErrors: 7}, &fakeGate{}, &fakeAnalyzer{})
	require.NoError(t, err)
	for _, c := range s.Capabilities() {
		require.Truef(t, json.Valid(c.Parameters), "%s parameters: %s", c.Name, c.Parameters)

		var schema struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
		}
		require.NoError(t, json.Unmarshal(c.Parameters, &schema), c.Name)
		assert.Equal(t, "object", schema.Type, c.Name)
		assert.NotEmpty(t, schema.Properties, c.Name)
	}

	var phpstan struct {
		Properties struct {
			Directories struct {
				Description string `json:"description"`
			} `json:"directories"`
			MaxErrors struct {
				Description string `json:"description"`
			} `json:"max_errors"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(s.Capabilities()[2].Parameters, &phpstan))
	assert.Contains(t, phpstan.Properties.Directories.Description, `(default "app \"legacy\"")`)
	assert.Contains(t, phpstan.Properties.MaxErrors.Description, "(default 7)")
}

func TestCall_UnknownToolAndBadArgs(t *testing.T) {
	t.Parallel()

	s, _ := newSurface(t, &fakeGate{}, &fakeAnalyzer{})

	out, err := s.Call(context.Background(), "delete_file", `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Unknown tool")

	out, err = s.Call(context.Background(), ReadFileName, `{not json`)
	require.NoError(t, err)
	assert.Contains(t, out, "Invalid arguments for read_file")

	out, err = s.Call(context.Background(), ReadFileName, `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "path is required")

	out, err = s.Call(context.Background(), WriteFileName, `{"path":"a.php"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "content is required")
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	s, root := newSurface(t, &fakeGate{}, &fakeAnalyzer{})
	require.NoError(t, os.WriteFile(filepath.Join(root, "A.php"), []byte("<?php\n"), 0o644))

	out, err := s.Call(context.Background(), ReadFileName, `{"path":"A.php"}`)
	require.NoError(t, err)
	assert.Equal(t, "<?php\n", out)

	out, err = s.Call(context.Background(), ReadFileName, `{"path":"missing.php"}`)
	require.NoError(t, err)
	assert.Equal(t, "File missing.php not found", out)
}

func TestWriteFile_DeniedLeavesFileUntouched(t *testing.T) {
	t.Parallel()

	g := &fakeGate{decision: gate.Decision{Allowed: false, Reason: "deletes code"}}
	s, root := newSurface(t, g, &fakeAnalyzer{})
	path := filepath.Join(root, "A.php")
	original := []byte("<?php\nfunction keep() {}\n")
	require.NoError(t, os.WriteFile(path, original, 0o644))

	out, err := s.Call(context.Background(), WriteFileName, `{"path":"A.php","content":"<?php\n"}`)
	require.NoError(t, err)
	assert.Equal(t, "Write forbidden: deletes code", out)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, after)
	assert.Equal(t, 0, s.Writes())
	assert.Equal(t, 1, g.calls)
}

func TestWriteFile_DecodeErrorIsTurnLocalRefusal(t *testing.T) {
	t.Parallel()

	g := &fakeGate{err: &gate.DecodeError{Raw: "nope", Err: errors.New("invalid character")}}
	s, root := newSurface(t, g, &fakeAnalyzer{})
	path := filepath.Join(root, "A.php")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))

	out, err := s.Call(context.Background(), WriteFileName, `{"path":"A.php","content":"b"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Write forbidden: decode review response")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", string(after))
}

func TestWriteFile_AllowedOverwrites(t *testing.T) {
	t.Parallel()

	g := &fakeGate{decision: gate.Decision{Allowed: true, Reason: "ok"}}
	s, root := newSurface(t, g, &fakeAnalyzer{})
	path := filepath.Join(root, "A.php")
	require.NoError(t, os.WriteFile(path, []byte("old content that is longer"), 0o600))

	out, err := s.WriteFile(context.Background(), "A.php", "new")
	require.NoError(t, err)
	assert.Equal(t, "File A.php written successfully", out)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(after))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, 1, s.Writes())
}

type denyingReviewer struct{ calls int }

func (r *denyingReviewer) Review(_ context.Context, _ openaiapi.ReviewRequest) (openaiapi.ReviewResponse, error) {
	r.calls++
	return openaiapi.ReviewResponse{OutputText: `{"allowed": false, "reason": "config edits are not fixes"}`}, nil
}

func TestWriteFile_EmptyNewFileGoesThroughReview(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	reviewer := &denyingReviewer{}
	g, err := gate.New(reviewer, gate.WithRoot(root))
	require.NoError(t, err)
	s, err := NewSurface(Config{Root: root}, g, &fakeAnalyzer{})
	require.NoError(t, err)

	out, err := s.WriteFile(context.Background(), "phpstan.neon", "")
	require.NoError(t, err)
	assert.Equal(t, "Write forbidden: config edits are not fixes", out)
	assert.Equal(t, 1, reviewer.calls)
	assert.Equal(t, 0, s.Writes())

	_, err = os.Stat(filepath.Join(root, "phpstan.neon"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFile_MissingParentIsNotFound(t *testing.T) {
	t.Parallel()

	g := &fakeGate{decision: gate.Decision{Allowed: true}}
	s, _ := newSurface(t, g, &fakeAnalyzer{})

	out, err := s.WriteFile(context.Background(), "nope/A.php", "x")
	require.NoError(t, err)
	assert.Equal(t, "File nope/A.php not found", out)
	assert.Equal(t, 0, s.Writes())
}

func TestWriteFile_CanceledContextPropagates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &fakeGate{err: context.Canceled}
	s, _ := newSurface(t, g, &fakeAnalyzer{})

	_, err := s.WriteFile(ctx, "A.php", "x")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunPHPStan_TruncatesToMaxErrors(t *testing.T) {
	t.Parallel()

	a := &fakeAnalyzer{lines: []string{"e1", "e2", "e3", "e4", "e5"}}
	s, _ := newSurface(t, &fakeGate{}, a)

	out, err := s.Call(context.Background(), RunPHPStanName, `{"level":2,"directories":"src","max_errors":"3"}`)
	require.NoError(t, err)
	assert.Equal(t, "e1\ne2\ne3", out)
	require.Len(t, a.calls, 1)
	assert.Equal(t, analyzerCall{level: 2, directories: "src"}, a.calls[0])
}

func TestRunPHPStan_Defaults(t *testing.T) {
	t.Parallel()

	lines := make([]string, 15)
	for i := range lines {
		lines[i] = fmt.Sprintf("e%d", i)
	}
	a := &fakeAnalyzer{lines: lines}
	s, _ := newSurface(t, &fakeGate{}, a)

	out, err := s.Call(context.Background(), RunPHPStanName, `{}`)
	require.NoError(t, err)
	assert.Equal(t, analyzerCall{level: 0, directories: "app"}, a.calls[0])
	assert.Contains(t, out, "e9")
	assert.NotContains(t, out, "e10")
}

func TestRunPHPStan_CleanResult(t *testing.T) {
	t.Parallel()

	s, _ := newSurface(t, &fakeGate{}, &fakeAnalyzer{})

	out, err := s.RunPHPStan(context.Background(), nil, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "No errors found at level 0.", out)
}

func TestRunPHPStan_AnalyzerFailureIsText(t *testing.T) {
	t.Parallel()

	s, _ := newSurface(t, &fakeGate{}, &fakeAnalyzer{err: errors.New("exec format error")})

	out, err := s.RunPHPStan(context.Background(), nil, "", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "Failed to run phpstan")
}

func TestRunPHPStan_GuardRefusesAndDefaultsLevel(t *testing.T) {
	t.Parallel()

	a := &fakeAnalyzer{}
	guard := &fakeGuard{current: 4, refuse: map[int]string{9: "Level 9 exceeds the maximum level 5."}}
	s, _ := newSurface(t, &fakeGate{}, a, WithLevelGuard(guard))

	out, err := s.Call(context.Background(), RunPHPStanName, `{"level":9}`)
	require.NoError(t, err)
	assert.Equal(t, "Level 9 exceeds the maximum level 5.", out)
	assert.Empty(t, a.calls)

	_, err = s.Call(context.Background(), RunPHPStanName, `{}`)
	require.NoError(t, err)
	require.Len(t, a.calls, 1)
	assert.Equal(t, 4, a.calls[0].level)
	assert.Equal(t, []int{4}, guard.observed)
}
