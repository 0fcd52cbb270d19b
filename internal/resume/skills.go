package resume

import (
	"strings"
	"unicode"

	"github.com/spigell/hh-autopilot/internal/model"
)

// skillAliases maps every known spelling onto its canonical skill token.
var skillAliases = map[string]string{}

// canonical skill -> extra spellings.
var skillDictionary = map[string][]string{
	"python":           {"python3", "питон"},
	"go":               {"golang"},
	"java":             {},
	"kotlin":           {},
	"scala":            {},
	"javascript":       {"js", "ecmascript", "es6"},
	"typescript":       {"ts"},
	"php":              {},
	"ruby":             {},
	"rust":             {},
	"c++":              {"cpp"},
	"c#":               {"csharp", "dotnet"},
	"swift":            {},
	"sql":              {},
	"postgresql":       {"postgres", "psql", "pg"},
	"mysql":            {"mariadb"},
	"mongodb":          {"mongo"},
	"redis":            {},
	"clickhouse":       {},
	"elasticsearch":    {"elastic"},
	"kafka":            {},
	"rabbitmq":         {"amqp"},
	"docker":           {},
	"kubernetes":       {"k8s"},
	"helm":             {},
	"terraform":        {},
	"ansible":          {},
	"linux":            {},
	"git":              {},
	"aws":              {"amazon web services"},
	"gcp":              {"google cloud"},
	"azure":            {},
	"django":           {},
	"flask":            {},
	"fastapi":          {},
	"spring":           {"spring boot"},
	"react":            {"reactjs", "react.js"},
	"vue":              {"vuejs", "vue.js"},
	"angular":          {},
	"node.js":          {"nodejs", "node"},
	"graphql":          {},
	"grpc":             {},
	"rest":             {"rest api", "restful"},
	"microservices":    {"микросервисы"},
	"ci/cd":            {"cicd", "gitlab ci", "github actions", "jenkins"},
	"prometheus":       {},
	"grafana":          {},
	"pandas":           {},
	"numpy":            {},
	"pytorch":          {},
	"tensorflow":       {},
	"machine learning": {"ml", "машинное обучение"},
	"html":             {"html5"},
	"css":              {"css3", "scss", "sass"},
	"1c":               {"1с"},
	"figma":            {},
	"qa":               {"тестирование"},
	"selenium":         {},
}

func init() {
	for canonical, aliases := range skillDictionary {
		skillAliases[canonical] = canonical
		for _, alias := range aliases {
			skillAliases[alias] = canonical
		}
	}
}

// CanonicalSkill resolves a single skill name. Unknown names are returned lowercased and trimmed.
func CanonicalSkill(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := skillAliases[key]; ok {
		return canonical
	}
	return key
}

// ExtractSkills finds dictionary skills in free text. The result is sorted and contains canonical tokens only.
func ExtractSkills(text string) []string {
	found := make(map[string]struct{})
	words := tokenize(text)

	for i := range words {
		if canonical, ok := skillAliases[words[i]]; ok {
			found[canonical] = struct{}{}
		}
		if i+1 < len(words) {
			if canonical, ok := skillAliases[words[i]+" "+words[i+1]]; ok {
				found[canonical] = struct{}{}
			}
		}
		if i+2 < len(words) {
			if canonical, ok := skillAliases[words[i]+" "+words[i+1]+" "+words[i+2]]; ok {
				found[canonical] = struct{}{}
			}
		}
	}

	return model.SortedSkills(found)
}

// tokenize lowercases text and splits it into words keeping characters that appear inside skill names.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch r {
		case '+', '#', '.', '/', '-':
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-/")
		if f == "" {
			continue
		}
		words = append(words, f)
	}

	return words
}
