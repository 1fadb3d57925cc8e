package report

import (
	"strings"
	"testing"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func testCampaign() *model.Campaign {
	brief := domain.Brief{CampaignName: "Summer Fitness Challenge", BrandName: "FitNow", Objective: "Drive sign-ups"}
	rejected := domain.ValidationResult{
		Score:     0.31,
		Citations: []uint{3},
		Feedback: []domain.FeedbackItem{{
			Kind:       domain.FeedbackForbidden,
			Constraint: "avoid superlatives",
			Message:    `uses "best"; guideline says: Never use superlatives`,
			ChunkID:    3,
		}},
	}
	accepted := domain.ValidationResult{Pass: true, Score: 0.82, Citations: []uint{}, Retrieved: []uint{3, 4}}
	revision := 2
	return &model.Campaign{
		ID:               "c-1",
		CampaignName:     brief.CampaignName,
		BrandName:        brief.BrandName,
		Brief:            datatypes.NewJSONType(brief),
		Status:           "accepted",
		AcceptedRevision: &revision,
		Attempts: []model.Attempt{
			{Revision: 1, Text: "The **best** app ever", Score: 0.31, Validation: datatypes.NewJSONType(rejected)},
			{Revision: 2, Text: "Train with **FitNow** <script>alert(1)</script>", ImageURL: "https://assets.local/a.png", Passed: true, Score: 0.82, Validation: datatypes.NewJSONType(accepted)},
		},
	}
}

func TestMarkdownSections(t *testing.T) {
	md := Markdown(testCampaign())

	assert.Contains(t, md, "# Summer Fitness Challenge")
	assert.Contains(t, md, "## Accepted draft (revision 2)")
	assert.Contains(t, md, "| 1 | rejected | 0.31 | #3 |")
	assert.Contains(t, md, "| 2 | accepted | 0.82 | - |")
	assert.Contains(t, md, "### Feedback on revision 1")
	assert.Contains(t, md, "(guideline #3)")
	assert.NotContains(t, md, "Feedback on revision 2")
}

func TestRenderHTML(t *testing.T) {
	out, err := NewExporter().Render(testCampaign())
	require.NoError(t, err)
	page := string(out)

	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "<title>Summer Fitness Challenge | FitNow</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<strong>FitNow</strong>")
	assert.Contains(t, page, `<img src="https://assets.local/a.png" alt="campaign image">`)
	assert.NotContains(t, page, "<script>", "raw html in drafts is not rendered")
}

func TestRenderWithoutAttempts(t *testing.T) {
	c := testCampaign()
	c.Attempts = nil
	c.AcceptedRevision = nil
	c.Status = "generation_failed"

	out, err := NewExporter().Render(c)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "Attempts")
	assert.Contains(t, string(out), "generation_failed")
}
