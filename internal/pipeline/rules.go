package pipeline

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/venturescope/enrich-cli/internal/model"
)

// Rules holds the normalization tables applied while cleaning records and
// while interpreting oracle answers.
type Rules struct {
	// StatusSynonyms maps each canonical status to the free-text spellings
	// that should fold into it.
	StatusSynonyms map[string][]string `yaml:"status_synonyms"`

	lookup map[string]model.Status
}

// DefaultRules returns the built-in normalization tables.
func DefaultRules() *Rules {
	r := &Rules{
		StatusSynonyms: map[string][]string{
			"operating": {"active", "live", "open", "running", "operational", "in operation"},
			"closed":    {"dead", "defunct", "shut down", "shutdown", "out of business", "inactive", "ceased operations"},
			"acquired":  {"merged", "acquisition", "bought", "taken over"},
			"public":    {"ipo", "listed", "went public", "initial public offering"},
		},
	}
	r.buildLookup()
	return r
}

// LoadRules reads a YAML rules file. An empty path returns the defaults.
// A file entry for a status replaces the default synonym list for it.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read rules %s", path)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse rules")
	}

	r := DefaultRules()
	for status, synonyms := range override.StatusSynonyms {
		if !model.ValidStatus(model.Status(status)) {
			return nil, eris.Errorf("pipeline: rules reference unknown status %q", status)
		}
		r.StatusSynonyms[status] = synonyms
	}
	r.buildLookup()
	return r, nil
}

func (r *Rules) buildLookup() {
	r.lookup = make(map[string]model.Status)
	for _, s := range []model.Status{
		model.StatusOperating,
		model.StatusClosed,
		model.StatusAcquired,
		model.StatusPublic,
		model.StatusUnknown,
	} {
		r.lookup[string(s)] = s
	}
	for canonical, synonyms := range r.StatusSynonyms {
		status := model.Status(canonical)
		for _, syn := range synonyms {
			r.lookup[collapseSpace(strings.ToLower(syn))] = status
		}
	}
}

// NormalizeStatus folds free-text status onto the closed enum. ok is false
// when the text matches neither a canonical value nor a synonym.
func (r *Rules) NormalizeStatus(text string) (model.Status, bool) {
	status, ok := r.lookup[collapseSpace(strings.ToLower(text))]
	return status, ok
}

// collapseSpace trims and squeezes internal whitespace runs to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
