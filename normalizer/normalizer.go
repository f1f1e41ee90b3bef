// Package normalizer maps extracted candidates onto the canonical SchemeRecord.
package normalizer

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"sarkari-pulse/models"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// ErrRejected is returned for candidates that cannot become a record
var ErrRejected = errors.New("candidate rejected")

// MinNameLength is the shortest accepted scheme name, in characters
const MinNameLength = 4

// generatedIDPrefix marks scheme ids that were made up locally
const generatedIDPrefix = "gen-"

// Normalizer converts candidates into SchemeRecords
type Normalizer struct {
	policy *bluemonday.Policy
	now    func() time.Time
	newID  func() string
}

// NewNormalizer creates a new Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Normalize maps a candidate onto a SchemeRecord. Candidates whose trimmed
// name is shorter than MinNameLength are rejected with ErrRejected.
func (n *Normalizer) Normalize(c models.CandidateRecord) (models.SchemeRecord, error) {
	name := n.text(c.Get("name"))
	if utf8.RuneCountInString(name) < MinNameLength {
		return models.SchemeRecord{}, fmt.Errorf("%w: name %q shorter than %d characters", ErrRejected, name, MinNameLength)
	}

	// Stored timestamps carry microseconds, so the record matches what reads back
	scrapedAt := n.now().UTC().Truncate(time.Microsecond)
	rec := models.SchemeRecord{
		Name:             name,
		Description:      n.text(c.Get("description")),
		Ministry:         n.text(c.Get("ministry")),
		Department:       n.text(c.Get("department")),
		TargetAudience:   n.text(c.Get("targetAudience")),
		Sector:           n.text(c.Get("category")),
		Tags:             n.text(c.Get("tags")),
		Level:            CanonicalLevel(n.text(c.Get("level"))),
		BeneficiaryState: n.text(c.Get("state")),
		LaunchDate:       ParseDate(n.text(c.Get("launchDate"))),
		SchemeID:         n.text(c.Get("id")),
		Source:           c.Source,
		SourceURL:        strings.TrimSpace(c.SourceURL),
		ScrapedAt:        &scrapedAt,
		IsActive:         true,
	}

	if rec.BeneficiaryState == "" {
		rec.BeneficiaryState = models.DefaultBeneficiaryState
	}
	if rec.SchemeID == "" {
		rec.SchemeID = generatedIDPrefix + n.newID()
		rec.GeneratedID = true
	}

	return rec, nil
}

// text flattens a raw value to a clean single-line string. Arrays are
// joined with ", ".
func (n *Normalizer) text(v any) string {
	switch val := v.(type) {
	case string:
		return n.clean(val)
	case []string:
		parts := make([]string, 0, len(val))
		for _, s := range val {
			if s = n.clean(s); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	default:
		return n.clean(fmt.Sprint(val))
	}
}

// clean strips markup, decodes entities and collapses whitespace
func (n *Normalizer) clean(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = html.UnescapeString(n.policy.Sanitize(s))
	}
	return strings.Join(strings.Fields(s), " ")
}

// Key is the in-memory dedup key for a scheme name
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsGeneratedID reports whether id is a locally made placeholder
func IsGeneratedID(id string) bool {
	return strings.HasPrefix(id, generatedIDPrefix)
}

// CanonicalLevel maps the variants sources use onto Central or State.
// Anything else is unknown and returned as "".
func CanonicalLevel(level string) string {
	l := strings.ToLower(strings.TrimSpace(level))
	switch {
	case l == "":
		return ""
	case strings.Contains(l, "central"), strings.Contains(l, "centre"), strings.Contains(l, "center"), l == "union":
		return models.LevelCentral
	case strings.Contains(l, "state"), l == "ut", strings.Contains(l, "union territory"):
		return models.LevelState
	}
	return ""
}
