package menuagent

import (
	"fmt"
	"strings"
)

// MenuSection holds the chosen courses for one category. A section may
// instead be marked unavailable with a reason when no compliant candidate
// existed.
type MenuSection struct {
	Category    Category    `json:"category"`
	Courses     []Candidate `json:"courses,omitempty"`
	Note        string      `json:"note,omitempty"`
	Unavailable bool        `json:"unavailable,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// Menu is the immutable final deliverable of a successful composition.
type Menu struct {
	Title        string        `json:"title"`
	Guests       int           `json:"guests"`
	Sections     []MenuSection `json:"sections"`
	PairingNotes string        `json:"pairing_notes,omitempty"`
	Timeline     []string      `json:"timeline,omitempty"`
	ShoppingList []string      `json:"shopping_list,omitempty"`
}

// Section returns the section for a category, if present.
func (m *Menu) Section(cat Category) (MenuSection, bool) {
	for _, s := range m.Sections {
		if s.Category == cat {
			return s, true
		}
	}
	return MenuSection{}, false
}

// Courses returns every chosen candidate across all sections.
func (m *Menu) Courses() []Candidate {
	var out []Candidate
	for _, s := range m.Sections {
		out = append(out, s.Courses...)
	}
	return out
}

// TotalPrepMinutes sums prep time across all chosen courses.
func (m *Menu) TotalPrepMinutes() int {
	total := 0
	for _, c := range m.Courses() {
		total += c.Recipe.PrepMinutes
	}
	return total
}

// TotalCookMinutes sums cook time across all chosen courses.
func (m *Menu) TotalCookMinutes() int {
	total := 0
	for _, c := range m.Courses() {
		total += c.Recipe.CookMinutes
	}
	return total
}

// Format renders the menu as printable text.
func (m *Menu) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nFor %d guests\n", m.Title, m.Guests)

	for _, s := range m.Sections {
		fmt.Fprintf(&b, "\n%s\n%s\n", strings.ToUpper(s.Category.DisplayName()), strings.Repeat("-", 40))
		if s.Unavailable {
			fmt.Fprintf(&b, "  unavailable: %s\n", s.Reason)
			continue
		}
		for i, c := range s.Courses {
			tags := ""
			if len(c.Recipe.DietaryTags) > 0 {
				strs := make([]string, len(c.Recipe.DietaryTags))
				for j, t := range c.Recipe.DietaryTags {
					strs[j] = string(t)
				}
				tags = " [" + strings.Join(strs, ", ") + "]"
			}
			fmt.Fprintf(&b, "  %d. %s%s\n", i+1, c.Recipe.Name, tags)
			if c.Recipe.Description != "" {
				fmt.Fprintf(&b, "     %s\n", c.Recipe.Description)
			}
		}
		if s.Note != "" {
			fmt.Fprintf(&b, "  note: %s\n", s.Note)
		}
	}

	if m.PairingNotes != "" {
		fmt.Fprintf(&b, "\nPAIRINGS\n%s\n%s\n", strings.Repeat("-", 40), m.PairingNotes)
	}
	if len(m.Timeline) > 0 {
		fmt.Fprintf(&b, "\nPREPARATION TIMELINE\n%s\n", strings.Repeat("-", 40))
		for _, step := range m.Timeline {
			fmt.Fprintf(&b, "  %s\n", step)
		}
	}
	if len(m.ShoppingList) > 0 {
		fmt.Fprintf(&b, "\nSHOPPING LIST\n%s\n", strings.Repeat("-", 40))
		for _, item := range m.ShoppingList {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
	}

	fmt.Fprintf(&b, "\nTotal prep ~%d min, cook ~%d min\n", m.TotalPrepMinutes(), m.TotalCookMinutes())
	return b.String()
}
