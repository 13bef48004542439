package catalog

import (
	"time"

	"jewelry/api/internal/store"

	"github.com/shopspring/decimal"
)

var fallbackEpoch = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

var fallbackCategories = []store.Category{
	{ID: "cat_rings", Slug: "rings", Name: "Rings", Description: "Engagement, stacking and statement rings.", ImageURL: "/static/images/categories/rings.jpg", SortOrder: 1},
	{ID: "cat_necklaces", Slug: "necklaces", Name: "Necklaces", Description: "Pendants, chains and chokers.", ImageURL: "/static/images/categories/necklaces.jpg", SortOrder: 2},
	{ID: "cat_earrings", Slug: "earrings", Name: "Earrings", Description: "Studs, hoops and drops.", ImageURL: "/static/images/categories/earrings.jpg", SortOrder: 3},
	{ID: "cat_bracelets", Slug: "bracelets", Name: "Bracelets", Description: "Bangles, cuffs and tennis bracelets.", ImageURL: "/static/images/categories/bracelets.jpg", SortOrder: 4},
}

type fallbackProduct struct {
	id, slug, name, description string
	price, compareAt            string
	category                    string
	material, gemstone          string
	stock                       int
	rating                      float64
	reviews                     int
	featured                    bool
	ageDays                     int
}

var fallbackProducts = []fallbackProduct{
	{"prd_aurora_ring", "aurora-solitaire-ring", "Aurora Solitaire Ring", "A brilliant-cut diamond set in a slim 18k gold band.", "1250.00", "1400.00", "rings", "gold", "diamond", 6, 4.8, 42, true, 10},
	{"prd_celeste_band", "celeste-eternity-band", "Celeste Eternity Band", "Channel-set sapphires around a platinum band.", "980.00", "", "rings", "platinum", "sapphire", 4, 4.6, 18, false, 40},
	{"prd_stacker_ring", "rose-stacking-ring", "Rose Stacking Ring", "A hammered rose gold ring made for layering.", "145.00", "", "rings", "rose-gold", "", 25, 4.3, 64, false, 90},
	{"prd_lumen_pendant", "lumen-pearl-pendant", "Lumen Pearl Pendant", "A freshwater pearl on a fine sterling silver chain.", "185.00", "220.00", "necklaces", "silver", "pearl", 14, 4.7, 51, true, 20},
	{"prd_verdant_necklace", "verdant-emerald-necklace", "Verdant Emerald Necklace", "An oval emerald framed by a halo of pave diamonds.", "2150.00", "", "necklaces", "white-gold", "emerald", 2, 4.9, 12, true, 5},
	{"prd_herringbone_chain", "herringbone-chain", "Herringbone Chain", "A liquid-smooth 14k gold herringbone chain.", "420.00", "", "necklaces", "gold", "", 9, 4.4, 27, false, 120},
	{"prd_halo_studs", "halo-diamond-studs", "Halo Diamond Studs", "Round diamonds in a sparkling halo setting.", "760.00", "", "earrings", "white-gold", "diamond", 8, 4.8, 39, true, 15},
	{"prd_luna_hoops", "luna-hoops", "Luna Hoops", "Lightweight sterling silver hoops with a polished finish.", "95.00", "", "earrings", "silver", "", 40, 4.2, 88, false, 200},
	{"prd_ruby_drops", "scarlet-ruby-drops", "Scarlet Ruby Drops", "Pear-shaped rubies suspended from rose gold hooks.", "640.00", "720.00", "earrings", "rose-gold", "ruby", 0, 4.5, 9, false, 60},
	{"prd_tennis_bracelet", "classic-tennis-bracelet", "Classic Tennis Bracelet", "A continuous line of diamonds in platinum.", "3200.00", "", "bracelets", "platinum", "diamond", 3, 5.0, 7, true, 30},
	{"prd_cuff_bracelet", "sculpted-gold-cuff", "Sculpted Gold Cuff", "A bold open cuff in polished gold vermeil.", "265.00", "", "bracelets", "gold", "", 12, 4.1, 22, false, 75},
	{"prd_charm_bracelet", "pearl-charm-bracelet", "Pearl Charm Bracelet", "Sterling silver links with freshwater pearl charms.", "155.00", "", "bracelets", "silver", "pearl", 18, 4.4, 31, false, 150},
}

// FallbackCategories returns a fresh copy of the built-in categories.
func FallbackCategories() []store.Category {
	out := make([]store.Category, len(fallbackCategories))
	copy(out, fallbackCategories)
	return out
}

// FallbackProducts returns a fresh copy of the built-in products.
func FallbackProducts() []store.Product {
	out := make([]store.Product, 0, len(fallbackProducts))
	for _, fp := range fallbackProducts {
		created := fallbackEpoch.AddDate(0, 0, -fp.ageDays)
		p := store.Product{
			ID:           fp.id,
			Slug:         fp.slug,
			Name:         fp.name,
			Description:  fp.description,
			Price:        decimal.RequireFromString(fp.price),
			CategoryID:   "cat_" + fp.category,
			CategorySlug: fp.category,
			Material:     fp.material,
			Gemstone:     fp.gemstone,
			Images:       []string{"/static/images/products/" + fp.slug + ".jpg", "/static/images/products/" + fp.slug + "-alt.jpg"},
			Stock:        fp.stock,
			Rating:       fp.rating,
			ReviewCount:  fp.reviews,
			IsFeatured:   fp.featured,
			IsActive:     true,
			CreatedAt:    created,
			UpdatedAt:    created,
		}
		if fp.compareAt != "" {
			v := decimal.RequireFromString(fp.compareAt)
			p.CompareAtPrice = &v
		}
		out = append(out, p)
	}
	return out
}
