package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/invoice-match/internal/model"
)

func TestFormattedMessagesKeepText(t *testing.T) {
	assert.Contains(t, FormatSuccess("saved"), SuccessIcon+" saved")
	assert.Contains(t, FormatWarning("stale report"), "stale report")
	assert.Contains(t, FormatInfo("3 chunks"), "3 chunks")
	assert.Contains(t, FormatPrompt("Accept?"), "Accept? →")

	box := RenderBox("INV-1", "Acme Hosting")
	assert.Contains(t, box, "INV-1")
	assert.Contains(t, box, "Acme Hosting")
}

func TestTierStyle(t *testing.T) {
	assert.Equal(t, SuccessStyle.GetForeground(), TierStyle(model.TierHigh).GetForeground())
	assert.Equal(t, ErrorStyle.GetForeground(), TierStyle(model.TierLow).GetForeground())
	assert.Equal(t, SubtleStyle.GetForeground(), TierStyle(model.ConfidenceTier("bogus")).GetForeground())
	assert.NotEqual(t, SuccessStyle.GetForeground(), TierStyle(model.TierMedium).GetForeground())
}
