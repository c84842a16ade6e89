package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/config"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

// QueryAnalysis turns the free-text query into target entities and an
// analysis profile.
type QueryAnalysis struct {
	base
}

// NewQueryAnalysis creates the query analysis stage.
func NewQueryAnalysis(d Deps) *QueryAnalysis {
	return &QueryAnalysis{base: newBase(config.StageQueryAnalysis, QueryAnalysisAgent, queryAnalysisSystemPrompt, d)}
}

type analysisResponse struct {
	Classification struct {
		Complexity        string `json:"complexity"`
		Sensitivity       string `json:"sensitivity_level"`
		InvestigationType string `json:"investigation_type"`
		EstimatedScope    string `json:"estimated_scope"`
	} `json:"query_classification"`
	PrimaryEntities   []entityItem `json:"primary_entities"`
	SecondaryEntities []entityItem `json:"secondary_entities"`
	Requirements      struct {
		PrimaryObjectives     strList `json:"primary_objectives"`
		InformationCategories strList `json:"information_categories"`
		SpecificQuestions     strList `json:"specific_questions"`
	} `json:"information_requirements"`
	CollectionStrategy struct {
		RecommendedApproaches strList `json:"recommended_approaches"`
		PotentialSources      strList `json:"potential_sources"`
		RiskConsiderations    strList `json:"risk_considerations"`
	} `json:"collection_strategy"`
}

type entityItem struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Priority     string  `json:"priority"`
	Confidence   *score  `json:"confidence"`
	ContextClues strList `json:"context_clues"`
	Aliases      strList `json:"potential_aliases"`
	Relationship string  `json:"relationship_to_primary"`
}

// Process replaces s.Entities and writes s.Analysis.
func (q *QueryAnalysis) Process(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := q.generate(ctx, fmt.Sprintf(queryAnalysisPrompt, s.Query))
	if err == nil {
		var resp analysisResponse
		if err = decodeJSON(q.name, raw, &resp); err == nil {
			if entities := q.entities(s.ID, resp); len(entities) > 0 {
				q.apply(s, resp, entities)
				return nil
			}
			err = &ParseError{Stage: q.name, Raw: truncate(raw, 200), Err: fmt.Errorf("no entities in analysis")}
		}
	}

	q.fellBack(ctx, s, err)
	q.fallback(s)
	return nil
}

func (q *QueryAnalysis) entities(sessionID string, resp analysisResponse) []session.Entity {
	var out []session.Entity
	add := func(item entityItem, category string, defPriority session.Priority, confidence float64) {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return
		}
		typ, ok := session.ParseEntityType(item.Type)
		if !ok {
			q.logger.Warn("unknown entity type, using person",
				zap.String("session_id", sessionID), zap.String("entity", name), zap.String("type", item.Type))
		}
		priority := defPriority
		if item.Priority != "" {
			var known bool
			if priority, known = session.ParsePriority(item.Priority); !known {
				q.logger.Warn("unknown entity priority, using medium",
					zap.String("session_id", sessionID), zap.String("entity", name), zap.String("priority", item.Priority))
			}
		}
		meta := map[string]interface{}{"entity_category": category}
		if category == "primary" {
			meta["context_clues"] = []string(item.ContextClues)
			meta["potential_aliases"] = []string(item.Aliases)
		} else {
			rel := item.Relationship
			if rel == "" {
				rel = "unknown"
			}
			meta["relationship_to_primary"] = rel
		}
		out = append(out, session.Entity{
			Name:       name,
			Type:       typ,
			Priority:   priority,
			Confidence: confidence,
			Metadata:   meta,
		})
	}

	for _, item := range resp.PrimaryEntities {
		add(item, "primary", session.PriorityMedium, item.Confidence.orDefault(0.8))
	}
	for _, item := range resp.SecondaryEntities {
		add(item, "secondary", session.PriorityLow, 0.6)
	}
	return out
}

func (q *QueryAnalysis) apply(s *session.Session, resp analysisResponse, entities []session.Entity) {
	s.Entities = entities

	c := resp.Classification
	s.Analysis = session.AnalysisProfile{
		Complexity:            orDefault(c.Complexity, "moderate"),
		Sensitivity:           orDefault(c.Sensitivity, "medium"),
		InvestigationType:     orDefault(c.InvestigationType, "multi-target"),
		InformationCategories: []string(resp.Requirements.InformationCategories),
		CollectionStrategy:    []string(resp.CollectionStrategy.RecommendedApproaches),
		ExtractionMethod:      "llm",
	}
	if len(resp.Requirements.PrimaryObjectives) > 0 {
		s.Gaps = append([]string{}, resp.Requirements.PrimaryObjectives...)
	}
	if c.EstimatedScope != "" {
		setExtension(s, "estimated_scope", c.EstimatedScope)
	}
	if len(resp.Requirements.SpecificQuestions) > 0 {
		setExtension(s, "specific_questions", []string(resp.Requirements.SpecificQuestions))
	}
	if len(resp.CollectionStrategy.RiskConsiderations) > 0 {
		setExtension(s, "risk_considerations", []string(resp.CollectionStrategy.RiskConsiderations))
	}

	categories := map[session.EntityType]bool{}
	primary := 0
	for _, e := range entities {
		categories[e.Type] = true
		if e.Priority == session.PriorityCritical || e.Priority == session.PriorityHigh {
			primary++
		}
	}

	s.AddMessage(q.message(
		fmt.Sprintf("Comprehensive query analysis complete. Identified %d entities across %d categories. Investigation classified as %s complexity with %s sensitivity.",
			len(entities), len(categories), s.Analysis.Complexity, s.Analysis.Sensitivity),
		"analysis", false,
		map[string]interface{}{
			"entities_count":   len(entities),
			"primary_entities": primary,
			"complexity":       s.Analysis.Complexity,
			"sensitivity":      s.Analysis.Sensitivity,
		}))
	q.logger.Info("query analysis complete",
		zap.String("session_id", s.ID),
		zap.Int("entities", len(entities)),
		zap.String("complexity", s.Analysis.Complexity))
}

// ─── Heuristic extraction ─────────────────────────────────────────────────────

const orgSuffixes = `company|corporation|corp|inc|llc|ltd|organization|agency|department`

var (
	orgBeforeSuffix = regexp.MustCompile(`\b((?:[A-Z][\w&.-]*\s+){0,2}[A-Z][\w&.-]*)\s+(?i:` + orgSuffixes + `)\b\.?`)
	orgAfterSuffix  = regexp.MustCompile(`(?i:\b(?:` + orgSuffixes + `))\s+((?:[A-Z][\w&.-]*\s+){0,2}[A-Z][\w&.-]*)`)
	locationPhrase  = regexp.MustCompile(`\b(?:in|at|from)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	properNoun      = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
)

// Capitalised words that start requests rather than name anyone.
var nonNames = map[string]bool{
	"tell": true, "what": true, "who": true, "where": true, "when": true, "why": true, "how": true,
	"find": true, "investigate": true, "research": true, "please": true, "the": true, "i": true,
	"can": true, "could": true, "give": true, "show": true, "look": true, "need": true,
	"check": true, "about": true, "is": true, "are": true, "do": true, "does": true,
}

// ExtractEntities is the deterministic entity extractor used when the model
// is unavailable. It always returns at least one entity.
func ExtractEntities(query string) []session.Entity {
	var entities []session.Entity
	used := map[string]bool{}
	add := func(name string, typ session.EntityType, confidence float64, meta map[string]interface{}) {
		name = trimRequestWords(strings.TrimSuffix(strings.TrimSpace(name), "."))
		key := strings.ToLower(name)
		if name == "" || used[key] {
			return
		}
		used[key] = true
		entities = append(entities, session.Entity{
			Name:       name,
			Type:       typ,
			Priority:   session.PriorityMedium,
			Confidence: confidence,
			Metadata:   meta,
		})
	}

	for _, m := range orgBeforeSuffix.FindAllString(query, -1) {
		add(m, session.EntityOrganization, 0.7,
			map[string]interface{}{"extraction_method": "pattern_matching", "pattern_type": "organization"})
	}
	for _, m := range orgAfterSuffix.FindAllStringSubmatch(query, -1) {
		add(m[1], session.EntityOrganization, 0.7,
			map[string]interface{}{"extraction_method": "pattern_matching", "pattern_type": "organization"})
	}
	for _, m := range locationPhrase.FindAllStringSubmatch(query, -1) {
		add(m[1], session.EntityLocation, 0.6,
			map[string]interface{}{"extraction_method": "pattern_matching", "pattern_type": "location"})
	}
	for _, name := range properNoun.FindAllString(query, -1) {
		name = trimRequestWords(name)
		if name == "" || len(strings.Fields(name)) > 3 || usedWithin(used, name) {
			continue
		}
		add(name, session.EntityPerson, 0.5,
			map[string]interface{}{"extraction_method": "proper_noun_extraction"})
	}

	if len(entities) == 0 {
		entities = append(entities, session.Entity{
			Name:       "Unknown Target",
			Type:       session.EntityPerson,
			Priority:   session.PriorityMedium,
			Confidence: 0.3,
			Metadata:   map[string]interface{}{"extraction_method": "fallback_default"},
		})
	}
	return entities
}

// trimRequestWords drops leading words such as "Investigate" that the
// capitalisation patterns pick up at the start of a sentence.
func trimRequestWords(name string) string {
	words := strings.Fields(name)
	for len(words) > 0 && nonNames[strings.ToLower(words[0])] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// usedWithin reports whether name is part of an entity already extracted
// by a more specific pattern ("Acme" inside "Acme Corp").
func usedWithin(used map[string]bool, name string) bool {
	lower := strings.ToLower(name)
	for u := range used {
		if strings.Contains(u, lower) {
			return true
		}
	}
	return false
}

func (q *QueryAnalysis) fallback(s *session.Session) {
	entities := ExtractEntities(s.Query)
	s.Entities = entities
	s.Analysis = session.AnalysisProfile{
		Complexity:        "moderate",
		Sensitivity:       "medium",
		InvestigationType: "multi-target",
		ExtractionMethod:  "enhanced_fallback",
	}
	s.AddMessage(q.message(
		fmt.Sprintf("Enhanced fallback analysis complete. Identified %d potential entities using pattern matching and linguistic analysis.", len(entities)),
		"warning", false,
		map[string]interface{}{"fallback_used": true, "entities_extracted": len(entities)}))
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
