package generation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"unicode"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/pkg/objectstore"
)

// OfflineTextGenerator writes plain template copy from the plan. It never
// fails and needs no credentials.
type OfflineTextGenerator struct{}

func NewOfflineTextGenerator() *OfflineTextGenerator {
	return &OfflineTextGenerator{}
}

func (g *OfflineTextGenerator) GenerateText(ctx context.Context, plan domain.GenerationPlan) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	audience := plan.TargetAudience
	if audience == "" {
		audience = "everyone"
	}
	objective := strings.TrimSuffix(plan.Objective, ".")
	if objective == "" {
		objective = "Be part of " + plan.CampaignName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", plan.CampaignName)
	fmt.Fprintf(&b, "%s brings %s to %s.\n\n", plan.BrandName, plan.CampaignName, audience)
	fmt.Fprintf(&b, "%s. Start today with %s.", objective, plan.BrandName)
	return b.String(), nil
}

// OfflineImageGenerator renders a flat colour placeholder derived from the
// prompt. With a store configured the PNG is uploaded.
type OfflineImageGenerator struct {
	store objectstore.Store
}

func NewOfflineImageGenerator(store objectstore.Store) *OfflineImageGenerator {
	return &OfflineImageGenerator{store: store}
}

func (g *OfflineImageGenerator) GenerateImage(ctx context.Context, plan domain.GenerationPlan) (domain.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImageRef{}, err
	}
	sum := sha256.Sum256([]byte(plan.ImagePrompt))
	name := hex.EncodeToString(sum[:8])
	if g.store == nil {
		return domain.ImageRef{URL: "offline://images/" + name + ".png"}, nil
	}

	data, err := placeholderPNG(color.RGBA{R: sum[0], G: sum[1], B: sum[2], A: 255})
	if err != nil {
		return domain.ImageRef{}, err
	}
	key := fmt.Sprintf("campaigns/%s/rev-%d-%s.png", slug(plan.CampaignName), plan.Revision, name)
	url, err := g.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.ImageRef{}, transient("store image", err)
	}
	return domain.ImageRef{URL: url, ObjectKey: key}, nil
}

func placeholderPNG(c color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "campaign"
	}
	return out
}
