package schema

import "strings"

// ContentType discriminates where a declaration came from.
type ContentType string

const (
	// ContentJournal marks a declaration projected from a journal entry.
	ContentJournal ContentType = "journal"
	// ContentAffirmation marks a declaration projected from an affirmation entry.
	ContentAffirmation ContentType = "affirmation"
	// ContentCatalog marks read-only, non-owned catalog content.
	ContentCatalog ContentType = "catalog"
)

// Kind maps an owned content type back to its entity kind.
// Returns ("", false) for catalog content.
func (c ContentType) Kind() (Kind, bool) {
	switch c {
	case ContentJournal:
		return KindJournal, true
	case ContentAffirmation:
		return KindAffirmation, true
	default:
		return "", false
	}
}

// Declaration is the unified read model served to the app: owned entries
// projected from the store plus non-owned catalog items merged in at read
// time. It has no identity beyond (Text, Category, ContentType) and is
// never persisted; EntryID is set only for owned declarations.
type Declaration struct {
	Text           string      `json:"text" yaml:"text"`
	Category       string      `json:"category" yaml:"category"`
	ContentType    ContentType `json:"content_type" yaml:"contentType"`
	BibleVerseText string      `json:"bible_verse_text,omitempty" yaml:"bibleVerseText,omitempty"`
	IsFavorite     bool        `json:"is_favorite,omitempty" yaml:"isFavorite,omitempty"`

	// EntryID references the backing owned record, when there is one.
	EntryID string `json:"entry_id,omitempty" yaml:"-"`
}

// Owned reports whether the declaration represents user-authored content.
func (d Declaration) Owned() bool {
	return d.Category == CategoryMyOwn
}

// FromEntry projects an owned entry into the declaration read model.
func FromEntry(e *Entry) Declaration {
	ct := ContentJournal
	if e.Kind == KindAffirmation {
		ct = ContentAffirmation
	}
	return Declaration{
		Text:           e.Text,
		Category:       e.Category,
		ContentType:    ct,
		BibleVerseText: e.BibleVerseText,
		IsFavorite:     e.IsFavorite,
		EntryID:        e.ID,
	}
}

// LegacyText recovers the original text from a legacy declaration
// identifier by stripping known suffixes. Older app releases built
// identifiers as "<text><category>" or "<text><category><contentType>";
// the structured EntryID replaces this scheme, but deletes issued against
// stale identifiers still need to resolve. One content-type suffix and one
// category suffix are stripped, in that order, each at most once.
func LegacyText(legacyID string) string {
	text := stripOneSuffix(legacyID, string(ContentJournal), string(ContentAffirmation))
	categories := append([]string{CategoryMyOwn}, CatalogCategories...)
	return stripOneSuffix(text, categories...)
}

func stripOneSuffix(text string, suffixes ...string) string {
	for _, s := range suffixes {
		if len(text) > len(s) && strings.HasSuffix(text, s) {
			return strings.TrimSpace(strings.TrimSuffix(text, s))
		}
	}
	return text
}
