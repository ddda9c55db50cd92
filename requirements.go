package menuagent

import (
	"sort"
	"strconv"
	"strings"
)

// Diet is a dietary restriction stated for some number of guests.
type Diet string

const (
	DietVegan      Diet = "vegan"
	DietVegetarian Diet = "vegetarian"
	DietGlutenFree Diet = "gluten_free"
	DietDairyFree  Diet = "dairy_free"
	DietNutFree    Diet = "nut_free"
)

// Allergen is a food allergen to exclude from every course.
type Allergen string

const (
	AllergenNuts      Allergen = "nuts"
	AllergenPeanuts   Allergen = "peanuts"
	AllergenSesame    Allergen = "sesame"
	AllergenDairy     Allergen = "dairy"
	AllergenEggs      Allergen = "eggs"
	AllergenFish      Allergen = "fish"
	AllergenShellfish Allergen = "shellfish"
	AllergenGluten    Allergen = "gluten"
	AllergenWheat     Allergen = "wheat"
	AllergenSoy       Allergen = "soy"
)

// ParseDiet normalizes a model- or user-supplied diet name. Unknown names
// return false rather than an error; callers drop them.
func ParseDiet(s string) (Diet, bool) {
	switch normalizeName(s) {
	case "vegan":
		return DietVegan, true
	case "vegetarian", "veggie":
		return DietVegetarian, true
	case "gluten_free", "celiac", "coeliac":
		return DietGlutenFree, true
	case "dairy_free", "lactose_free", "lactose_intolerant":
		return DietDairyFree, true
	case "nut_free":
		return DietNutFree, true
	}
	return "", false
}

// ParseAllergen normalizes a model- or user-supplied allergen name.
func ParseAllergen(s string) (Allergen, bool) {
	switch normalizeName(s) {
	case "nuts", "nut", "tree_nuts", "tree_nut":
		return AllergenNuts, true
	case "peanuts", "peanut":
		return AllergenPeanuts, true
	case "sesame":
		return AllergenSesame, true
	case "dairy", "milk", "lactose":
		return AllergenDairy, true
	case "eggs", "egg":
		return AllergenEggs, true
	case "fish":
		return AllergenFish, true
	case "shellfish", "crustaceans", "mollusks":
		return AllergenShellfish, true
	case "gluten":
		return AllergenGluten, true
	case "wheat":
		return AllergenWheat, true
	case "soy", "soya":
		return AllergenSoy, true
	}
	return "", false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// GuestsUnspecified is the sentinel guest count used when the user never
// stated one. The composer plans for DefaultPartySize in that case rather
// than failing.
const GuestsUnspecified = 0

// DefaultPartySize is the standard party size assumed for an unspecified
// guest count.
const DefaultPartySize = 8

// RequirementSet is the structured requirement state for one planning run.
// It is built by the constraint extractor and read-only for the run's
// duration; updates happen only between runs through the extractor's merge.
type RequirementSet struct {
	Guests      int          `json:"guests"`
	Diets       map[Diet]int `json:"diets,omitempty"`
	Allergens   []Allergen   `json:"allergens,omitempty"`
	Traditional bool         `json:"traditional"`
	Notes       string       `json:"notes,omitempty"`
}

// RequirementDelta is the change extracted from a single conversation turn.
// Nil pointer fields mean "not stated this turn"; removals are explicit
// retractions ("not vegan anymore").
type RequirementDelta struct {
	Guests          *int         `json:"guests,omitempty"`
	AddDiets        map[Diet]int `json:"add_diets,omitempty"`
	RemoveDiets     []Diet       `json:"remove_diets,omitempty"`
	AddAllergens    []Allergen   `json:"add_allergens,omitempty"`
	RemoveAllergens []Allergen   `json:"remove_allergens,omitempty"`
	Traditional     *bool        `json:"traditional,omitempty"`
	Notes           string       `json:"notes,omitempty"`
}

// Empty reports whether the delta carries no signal at all.
func (d RequirementDelta) Empty() bool {
	return d.Guests == nil &&
		len(d.AddDiets) == 0 &&
		len(d.RemoveDiets) == 0 &&
		len(d.AddAllergens) == 0 &&
		len(d.RemoveAllergens) == 0 &&
		d.Traditional == nil &&
		strings.TrimSpace(d.Notes) == ""
}

// IsZero reports whether nothing has been stated at all.
func (r RequirementSet) IsZero() bool {
	return r.Guests == GuestsUnspecified &&
		len(r.Diets) == 0 &&
		len(r.Allergens) == 0 &&
		!r.Traditional &&
		r.Notes == ""
}

// EffectiveGuests resolves the sentinel to the standard party size.
func (r RequirementSet) EffectiveGuests() int {
	if r.Guests <= GuestsUnspecified {
		return DefaultPartySize
	}
	return r.Guests
}

// ExcludesAllergen reports whether the allergen is on the exclusion list.
func (r RequirementSet) ExcludesAllergen(a Allergen) bool {
	for _, x := range r.Allergens {
		if x == a {
			return true
		}
	}
	return false
}

// DietCount returns the stated guest count for a diet (0 when unstated).
func (r RequirementSet) DietCount(d Diet) int {
	return r.Diets[d]
}

// RequiredTags returns the dietary tags that apply to every guest and are
// therefore hard filters. A diet stated for only part of the table stays a
// soft preference handled at composition time.
func (r RequirementSet) RequiredTags() []DietaryTag {
	var tags []DietaryTag
	guests := r.EffectiveGuests()
	for diet, count := range r.Diets {
		if count >= guests {
			tags = append(tags, DietaryTag(diet))
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Apply merges one turn's delta into the set and returns the result. The
// latest statement wins for scalars, diets and allergens accumulate across
// turns, and removals only ever happen through the delta's explicit removal
// lists.
func (r RequirementSet) Apply(d RequirementDelta) RequirementSet {
	out := r.Clone()

	if d.Guests != nil {
		out.Guests = *d.Guests
	}
	if d.Traditional != nil {
		out.Traditional = *d.Traditional
	}
	if n := strings.TrimSpace(d.Notes); n != "" {
		if out.Notes == "" {
			out.Notes = n
		} else if !strings.Contains(out.Notes, n) {
			out.Notes = out.Notes + "; " + n
		}
	}

	if len(d.AddDiets) > 0 && out.Diets == nil {
		out.Diets = make(map[Diet]int, len(d.AddDiets))
	}
	for diet, count := range d.AddDiets {
		out.Diets[diet] = count
	}
	for _, diet := range d.RemoveDiets {
		delete(out.Diets, diet)
	}

	for _, a := range d.AddAllergens {
		if !out.ExcludesAllergen(a) {
			out.Allergens = append(out.Allergens, a)
		}
	}
	for _, a := range d.RemoveAllergens {
		kept := out.Allergens[:0]
		for _, x := range out.Allergens {
			if x != a {
				kept = append(kept, x)
			}
		}
		out.Allergens = kept
	}

	return out
}

// Clone returns a deep copy so callers can hold the set without aliasing the
// extractor's state.
func (r RequirementSet) Clone() RequirementSet {
	out := r
	if r.Diets != nil {
		out.Diets = make(map[Diet]int, len(r.Diets))
		for k, v := range r.Diets {
			out.Diets[k] = v
		}
	}
	out.Allergens = append([]Allergen(nil), r.Allergens...)
	return out
}

// Summary renders the requirement set for prompts and logs.
func (r RequirementSet) Summary() string {
	var parts []string
	if r.Guests > GuestsUnspecified {
		parts = append(parts, pluralize(r.Guests, "guest"))
	} else {
		parts = append(parts, "guest count unspecified")
	}

	diets := make([]string, 0, len(r.Diets))
	for diet, count := range r.Diets {
		diets = append(diets, string(diet)+":"+strconv.Itoa(count))
	}
	sort.Strings(diets)
	if len(diets) > 0 {
		parts = append(parts, "diets "+strings.Join(diets, ", "))
	}

	if len(r.Allergens) > 0 {
		strs := make([]string, len(r.Allergens))
		for i, a := range r.Allergens {
			strs[i] = string(a)
		}
		sort.Strings(strs)
		parts = append(parts, "no "+strings.Join(strs, ", "))
	}

	if r.Traditional {
		parts = append(parts, "prefers traditional")
	}
	if r.Notes != "" {
		parts = append(parts, "notes: "+r.Notes)
	}
	return strings.Join(parts, "; ")
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return strconv.Itoa(n) + " " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
