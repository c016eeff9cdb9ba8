package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/stanfix/internal/llm/openaiapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReviewer struct {
	outputs []string
	err     error
	prompts []string
}

func (f *fakeReviewer) Review(_ context.Context, req openaiapi.ReviewRequest) (openaiapi.ReviewResponse, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return openaiapi.ReviewResponse{}, f.err
	}
	out := f.outputs[0]
	if len(f.outputs) > 1 {
		f.outputs = f.outputs[1:]
	}
	return openaiapi.ReviewResponse{OutputText: out}, nil
}

func newTestGate(t *testing.T, r Reviewer, opts ...Option) (*Gate, string) {
	t.Helper()
	root := t.TempDir()
	g, err := New(r, append([]Option{WithRoot(root)}, opts...)...)
	require.NoError(t, err)
	return g, root
}

func TestNew_RequiresReviewer(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
}

func TestEvaluate_IdenticalContentAllowedWithoutReview(t *testing.T) {
	t.Parallel()

	r := &fakeReviewer{outputs: []string{`{"allowed": false, "reason": "never"}`}}
	g, root := newTestGate(t, r)
	require.NoError(t, os.WriteFile(filepath.Join(root, "A.php"), []byte("<?php\necho 1;\n"), 0o644))

	d, err := g.Evaluate(context.Background(), "A.php", "<?php\necho 1;\n")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, r.prompts)
}

func TestEvaluate_DenyCarriesReason(t *testing.T) {
	t.Parallel()

	r := &fakeReviewer{outputs: []string{`{"allowed": false, "reason": "removes a method"}`}}
	g, root := newTestGate(t, r)
	require.NoError(t, os.WriteFile(filepath.Join(root, "A.php"), []byte("<?php\nfunction a() {}\n"), 0o644))

	d, err := g.Evaluate(context.Background(), "A.php", "<?php\n")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "removes a method", d.Reason)
	require.Len(t, r.prompts, 1)
	assert.Contains(t, r.prompts[0], "File: A.php")
	assert.Contains(t, r.prompts[0], "-function a() {}")
}

func TestEvaluate_FencedResponse(t *testing.T) {
	t.Parallel()

	r := &fakeReviewer{outputs: []string{"```json\n{\"allowed\": true, \"reason\": \"adds return type\"}\n```"}}
	g, root := newTestGate(t, r)
	require.NoError(t, os.WriteFile(filepath.Join(root, "A.php"), []byte("a\n"), 0o644))

	d, err := g.Evaluate(context.Background(), "A.php", "b\n")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "adds return type", d.Reason)
}

func TestEvaluate_MalformedResponseIsDecodeError(t *testing.T) {
	t.Parallel()

	for _, out := range []string{"I think this is fine", `{"reason": "missing verdict"}`, `{"allowed": "yes"}`} {
		r := &fakeReviewer{outputs: []string{out}}
		g, root := newTestGate(t, r)
		require.NoError(t, os.WriteFile(filepath.Join(root, "A.php"), []byte("a\n"), 0o644))

		_, err := g.Evaluate(context.Background(), "A.php", "b\n")
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr, "output %q", out)
		assert.Equal(t, out, decodeErr.Raw)
	}
}

func TestEvaluate_MissingFileDiffsAgainstEmpty(t *testing.T) {
	t.Parallel()

	var seen []Review
	r := &fakeReviewer{outputs: []string{`{"allowed": true, "reason": "new helper"}`}}
	g, _ := newTestGate(t, r, WithObserver(func(rv Review) { seen = append(seen, rv) }))

	d, err := g.Evaluate(context.Background(), "app/New.php", "<?php\nclass A {}\n")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.Len(t, r.prompts, 1)
	assert.Contains(t, r.prompts[0], "(new file)")
	require.Len(t, seen, 1)
	assert.True(t, seen[0].NewFile)
	assert.Equal(t, 2, seen[0].Stats.Added)
	assert.Equal(t, 0, seen[0].Stats.Deleted)
}

func TestEvaluate_EmptyNewFileIsReviewed(t *testing.T) {
	t.Parallel()

	var seen []Review
	r := &fakeReviewer{outputs: []string{`{"allowed": false, "reason": "would shadow phpstan.neon.dist"}`}}
	g, root := newTestGate(t, r, WithObserver(func(rv Review) { seen = append(seen, rv) }))

	d, err := g.Evaluate(context.Background(), "phpstan.neon", "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "would shadow phpstan.neon.dist", d.Reason)
	require.Len(t, r.prompts, 1)
	assert.Contains(t, r.prompts[0], "(new file)")
	require.Len(t, seen, 1)
	assert.True(t, seen[0].NewFile)
	assert.Empty(t, seen[0].Diff)
	assert.Contains(t, r.prompts[0], "creates this file with empty content")

	_, err = os.Stat(filepath.Join(root, "phpstan.neon"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEvaluate_ReviewerErrorPropagates(t *testing.T) {
	t.Parallel()

	r := &fakeReviewer{err: errors.New("connection refused")}
	g, root := newTestGate(t, r)
	require.NoError(t, os.WriteFile(filepath.Join(root, "A.php"), []byte("a\n"), 0o644))

	_, err := g.Evaluate(context.Background(), "A.php", "b\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	var decodeErr *DecodeError
	assert.False(t, errors.As(err, &decodeErr))
}

func TestEvaluate_DecisionIsAllowOrDenyWithReason(t *testing.T) {
	t.Parallel()

	outputs := []string{
		`{"allowed": true}`,
		`{"allowed": true, "reason": ""}`,
		`{"allowed": false}`,
		`{"allowed": false, "reason": "  "}`,
		`{"allowed": false, "reason": "unsafe"}`,
	}
	for _, out := range outputs {
		r := &fakeReviewer{outputs: []string{out}}
		g, root := newTestGate(t, r)
		require.NoError(t, os.WriteFile(filepath.Join(root, "A.php"), []byte("a\n"), 0o644))

		d, err := g.Evaluate(context.Background(), "A.php", "b\n")
		require.NoError(t, err, "output %q", out)
		if !d.Allowed {
			assert.NotEmpty(t, d.Reason, "output %q", out)
		}
	}
}
