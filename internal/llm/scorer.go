package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/invoice-match/internal/common"
)

const scoreSystemPrompt = "You compare counterparty names from invoices and bank statements. " +
	"Respond with ONLY a JSON object of the form {\"score\": <number between 0 and 1>}. " +
	"Do not include any explanatory text or markdown."

// Scorer rates how likely two texts name the same counterparty.
type Scorer struct {
	client    Client
	retryOpts common.RetryOptions
}

// NewScorer wraps a client. A zero RetryOptions gets three attempts.
func NewScorer(client Client, retry common.RetryOptions) *Scorer {
	if retry.MaxAttempts == 0 {
		retry = common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		}
	}
	return &Scorer{client: client, retryOpts: retry}
}

// Score returns the model's rating of a and b. Range checking is left to the caller.
func (s *Scorer) Score(ctx context.Context, a, b string) (float64, error) {
	prompt := buildScorePrompt(a, b)

	var score float64
	_, err := common.WithRetry(ctx, func(ctx context.Context) error {
		content, err := s.client.Complete(ctx, scoreSystemPrompt, prompt)
		if err != nil {
			return err
		}
		score, err = parseScore(content)
		return err
	}, s.retryOpts)
	if err != nil {
		return 0, err
	}
	return score, nil
}

func buildScorePrompt(a, b string) string {
	var sb strings.Builder
	sb.WriteString("Do these two texts refer to the same business or person?\n\n")
	fmt.Fprintf(&sb, "Text A: %s\n", a)
	fmt.Fprintf(&sb, "Text B: %s\n\n", b)
	sb.WriteString("Bank descriptions are often truncated, upper-cased and padded with ")
	sb.WriteString("reference numbers, card suffixes or processor prefixes. Ignore those.\n")
	sb.WriteString("Answer 1 for certainly the same, 0 for certainly different.")
	return sb.String()
}

// parseScore accepts {"score": x}, a bare number, or a percentage.
func parseScore(content string) (float64, error) {
	content = cleanMarkdownWrapper(content)

	var resp struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err == nil {
		if resp.Score == nil {
			return 0, fmt.Errorf("no score in response: %s", content)
		}
		return *resp.Score, nil
	}

	if strings.HasSuffix(content, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(content, "%")), 64)
		if err == nil {
			return pct / 100.0, nil
		}
	}
	score, err := strconv.ParseFloat(content, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse score from response %q", content)
	}
	return score, nil
}

// cleanMarkdownWrapper strips a ``` fence some models put around JSON.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
