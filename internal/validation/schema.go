package validation

import "strings"

// Границы числа вложений.
const (
	MaxReviewImages  = 5
	MaxGalleryImages = 10
)

// BusinessCategories: допустимые slug категорий карточки.
var BusinessCategories = []string{
	"restaurants",
	"bars-nightlife",
	"shopping",
	"beauty-spas",
	"health-medical",
	"home-services",
	"automotive",
	"professional-services",
	"entertainment",
	"education",
	"fitness",
	"pets",
}

// PriceRanges: допустимые обозначения ценового диапазона.
var PriceRanges = []string{"$", "$$", "$$$", "$$$$"}

// stateCode принимает двухбуквенный код штата в любом регистре и переводит в верхний.
func stateCode() Pattern {
	p := Regexp("state", `^[A-Za-z]{2}$`, "must be a two-letter state code")
	p.Normalize = strings.ToUpper
	return p
}

// ReviewSchema проверяет заявку на отзыв. В "images" по записи на
// каждый приложенный файл.
var ReviewSchema = &Schema{
	Name: "review",
	Fields: []Field{
		{Name: "business_id", Kind: KindString, Required: true, Constraints: []FieldConstraint{UUID()}},
		{Name: "rating", Kind: KindInt, Required: true, Constraints: []FieldConstraint{Range{Min: 1, Max: 5}}},
		{Name: "title", Kind: KindString, Constraints: []FieldConstraint{Length{Max: 100}}},
		{Name: "content", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 10, Max: 5000}}},
		{Name: "images", Kind: KindList, Constraints: []FieldConstraint{Length{Max: MaxReviewImages}}},
	},
}

// BusinessListingSchema проверяет заявку на карточку бизнеса.
// В "logo", "banner" и "gallery" по записи на каждый приложенный файл.
var BusinessListingSchema = &Schema{
	Name: "business_listing",
	Fields: []Field{
		{Name: "name", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 2, Max: 100}}},
		{Name: "description", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 20, Max: 500}}},
		{Name: "category", Kind: KindString, Required: true, Constraints: []FieldConstraint{Enum{Values: BusinessCategories}}},
		{Name: "phone", Kind: KindString, Constraints: []FieldConstraint{USPhone()}},
		{Name: "email", Kind: KindString, Constraints: []FieldConstraint{Length{Max: 254}, Email()}},
		{Name: "website", Kind: KindString, Constraints: []FieldConstraint{Length{Max: 2048}, URL()}},
		{Name: "address", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 5, Max: 200}}},
		{Name: "city", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 2, Max: 100}}},
		{Name: "state", Kind: KindString, Required: true, Constraints: []FieldConstraint{stateCode()}},
		{Name: "zip_code", Kind: KindString, Required: true, Constraints: []FieldConstraint{USZip()}},
		{Name: "price_range", Kind: KindString, Constraints: []FieldConstraint{Enum{Values: PriceRanges}}},
		{Name: "logo", Kind: KindList, Constraints: []FieldConstraint{Length{Max: 1}}},
		{Name: "banner", Kind: KindList, Constraints: []FieldConstraint{Length{Max: 1}}},
		{Name: "gallery", Kind: KindList, Constraints: []FieldConstraint{Length{Max: MaxGalleryImages}}},
	},
}

// ContactSchema проверяет сообщение формы обратной связи.
var ContactSchema = &Schema{
	Name: "contact",
	Fields: []Field{
		{Name: "name", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 2, Max: 100}}},
		{Name: "email", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Max: 254}, Email()}},
		{Name: "phone", Kind: KindString, Constraints: []FieldConstraint{USPhone()}},
		{Name: "subject", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 5, Max: 200}}},
		{Name: "message", Kind: KindString, Required: true, Constraints: []FieldConstraint{Length{Min: 10, Max: 2000}}},
	},
}
