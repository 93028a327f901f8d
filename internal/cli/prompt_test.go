package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompterReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantEOF bool
	}{
		{name: "trims whitespace", input: "  accept  \n", want: []string{"accept"}},
		{name: "blank line", input: "\n", want: []string{""}},
		{name: "unterminated last line", input: "first\ntail", want: []string{"first", "tail"}, wantEOF: true},
		{name: "no input", input: "", wantEOF: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPrompter(strings.NewReader(tt.input), io.Discard)
			ctx := context.Background()

			for _, want := range tt.want {
				got, err := p.ReadLine(ctx)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			if tt.wantEOF {
				_, err := p.ReadLine(ctx)
				assert.ErrorIs(t, err, io.EOF)
			}
		})
	}
}

func TestPrompterCancellation(t *testing.T) {
	t.Run("already canceled", func(t *testing.T) {
		p := NewPrompter(strings.NewReader("ignored\n"), io.Discard)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.ReadLine(ctx)
		assert.ErrorIs(t, err, ErrInputCancelled)
	})

	t.Run("answer arriving after a timeout is kept", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer func() { _ = pw.Close() }()
		p := NewPrompter(pr, io.Discard)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := p.ReadLine(ctx)
		require.ErrorIs(t, err, ErrInputCancelled)

		go func() { _, _ = io.WriteString(pw, "late answer\n") }()
		got, err := p.ReadLine(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "late answer", got)
	})
}

func TestPrompterConfirm(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{input: "y\n", expected: true},
		{input: "YES\n", expected: true},
		{input: "n\n", expected: false},
		{input: "\n", expected: false},
		{input: "sure\n", expected: false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)

			ok, err := p.Confirm(context.Background(), "Accept INV-1 with T-1?")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			assert.Contains(t, out.String(), "Accept INV-1 with T-1? [y/N]")
		})
	}
}

func TestPrompterAskSequence(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("duplicate charge\ny\n"), &out)
	ctx := context.Background()

	reason, err := p.Ask(ctx, "Reason")
	require.NoError(t, err)
	assert.Equal(t, "duplicate charge", reason)

	ok, err := p.Confirm(ctx, "Reject?")
	require.NoError(t, err)
	assert.True(t, ok)
}
