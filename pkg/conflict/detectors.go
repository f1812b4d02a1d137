package conflict

import (
	"fmt"
	"strings"

	"github.com/atlasworks/convoy/pkg/models"
)

// similarityFloor is the pairwise similarity below which two artifacts of
// the same type are considered contradictory.
const similarityFloor = 0.5

// detectOutputContradictions compares artifacts of the same type pairwise.
// Detection confidence is the similarity deficit: two outputs sharing almost
// no vocabulary contradict with high confidence.
func detectOutputContradictions(artifacts []*models.Artifact) []*models.Conflict {
	byType := make(map[string][]*models.Artifact)
	for _, artifact := range artifacts {
		byType[artifact.Type] = append(byType[artifact.Type], artifact)
	}

	var conflicts []*models.Conflict

	for artifactType, group := range byType {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.SourceAgent == b.SourceAgent {
					continue
				}

				similarity := jaccardSimilarity(tokenize(a.Content), tokenize(b.Content))
				if similarity >= similarityFloor {
					continue
				}

				newer, older := a, b
				if b.CreatedAt.After(a.CreatedAt) {
					newer, older = b, a
				}

				conflicts = append(conflicts, &models.Conflict{
					Type:     models.ConflictOutputContradiction,
					Severity: models.SeverityMedium,
					Description: fmt.Sprintf("%s artifacts from %s and %s diverge (similarity %.2f)",
						artifactType, a.SourceAgent, b.SourceAgent, similarity),
					Participants: []models.ConflictParticipant{
						{AgentType: newer.SourceAgent, Role: "primary", Confidence: 0.6},
						{AgentType: older.SourceAgent, Role: "secondary", Confidence: 0.4},
					},
					Evidence: models.ConflictEvidence{
						ArtifactIDs: []string{a.ID, b.ID},
						Context:     artifactType,
					},
					DetectionConfidence: 1 - similarity,
				})
			}
		}
	}

	return conflicts
}

// detectRequirementMismatches scans requirement artifacts for modal
// contradictions: one artifact demanding something another forbids.
func detectRequirementMismatches(artifacts []*models.Artifact) []*models.Conflict {
	specs := filterByType(artifacts, models.ArtifactTypeSpecification)

	var conflicts []*models.Conflict

	for i := 0; i < len(specs); i++ {
		for j := 0; j < len(specs); j++ {
			if i == j {
				continue
			}

			required := modalClaims(specs[i].Content, "must")
			forbidden := modalClaims(specs[j].Content, "must not")

			for subject := range required {
				if !forbidden[subject] {
					continue
				}

				conflicts = append(conflicts, &models.Conflict{
					Type:     models.ConflictRequirementMismatch,
					Severity: models.SeverityHigh,
					Description: fmt.Sprintf("requirement %q is demanded by %s and forbidden by %s",
						subject, specs[i].SourceAgent, specs[j].SourceAgent),
					Participants: []models.ConflictParticipant{
						{AgentType: specs[i].SourceAgent, Role: "demands", Confidence: 0.5},
						{AgentType: specs[j].SourceAgent, Role: "forbids", Confidence: 0.5},
					},
					Evidence: models.ConflictEvidence{
						ArtifactIDs: []string{specs[i].ID, specs[j].ID},
						Excerpt:     subject,
					},
					DetectionConfidence: 0.7,
				})
			}
		}
	}

	return conflicts
}

// opposingPatterns are architectural choices that cannot both hold.
var opposingPatterns = [][2]string{
	{"monolith", "microservice"},
	{"rest", "graphql"},
	{"sql", "nosql"},
	{"synchronous", "asynchronous"},
}

// detectDesignInconsistencies looks for opposing architectural-pattern
// keywords across design artifacts from different agents.
func detectDesignInconsistencies(artifacts []*models.Artifact) []*models.Conflict {
	designs := filterByType(artifacts, models.ArtifactTypeDesign)

	var conflicts []*models.Conflict

	for i := 0; i < len(designs); i++ {
		for j := i + 1; j < len(designs); j++ {
			a, b := designs[i], designs[j]
			aTokens := tokenize(a.Content)
			bTokens := tokenize(b.Content)

			for _, pair := range opposingPatterns {
				first, second := pair[0], pair[1]

				forward := aTokens[first] && bTokens[second] && !aTokens[second] && !bTokens[first]
				backward := aTokens[second] && bTokens[first] && !aTokens[first] && !bTokens[second]

				if !forward && !backward {
					continue
				}

				conflicts = append(conflicts, &models.Conflict{
					Type:     models.ConflictDesignInconsistency,
					Severity: models.SeverityMedium,
					Description: fmt.Sprintf("design artifacts from %s and %s commit to opposing patterns %q and %q",
						a.SourceAgent, b.SourceAgent, first, second),
					Participants: []models.ConflictParticipant{
						{AgentType: a.SourceAgent, Role: "design", Confidence: 0.5},
						{AgentType: b.SourceAgent, Role: "design", Confidence: 0.5},
					},
					Evidence: models.ConflictEvidence{
						ArtifactIDs: []string{a.ID, b.ID},
						Context:     first + " vs " + second,
					},
					DetectionConfidence: 0.6,
				})
			}
		}
	}

	return conflicts
}

// elementMarkers introduce named elements a design expects to exist.
var elementMarkers = []string{"component", "module", "service", "endpoint"}

// detectImplementationViolations checks that elements named by design
// artifacts appear somewhere in the implementation artifacts.
func detectImplementationViolations(artifacts []*models.Artifact) []*models.Conflict {
	designs := filterByType(artifacts, models.ArtifactTypeDesign)
	implementations := filterByType(artifacts, models.ArtifactTypeImplementation)

	if len(designs) == 0 || len(implementations) == 0 {
		return nil
	}

	implTokens := make(map[string]bool)
	for _, impl := range implementations {
		for token := range tokenize(impl.Content) {
			implTokens[token] = true
		}
	}

	var conflicts []*models.Conflict

	for _, design := range designs {
		for _, element := range namedElements(design.Content) {
			if implTokens[element] {
				continue
			}

			conflicts = append(conflicts, &models.Conflict{
				Type:     models.ConflictImplementationViolation,
				Severity: models.SeverityHigh,
				Description: fmt.Sprintf("design element %q from %s is absent from the implementation",
					element, design.SourceAgent),
				Participants: []models.ConflictParticipant{
					{AgentType: design.SourceAgent, Role: "design", Confidence: 0.6},
					{AgentType: implementations[0].SourceAgent, Role: "implementation", Confidence: 0.4},
				},
				Evidence: models.ConflictEvidence{
					ArtifactIDs: []string{design.ID},
					Excerpt:     element,
				},
				DetectionConfidence: 0.65,
			})
		}
	}

	return conflicts
}

// resourceKeywords are shared assets two in-flight tasks should not touch at
// the same time.
var resourceKeywords = []string{"database", "schema", "cache", "queue", "config", "deployment"}

// detectResourceContention flags in-flight tasks from different agents that
// reference the same shared resource.
func detectResourceContention(tasks []*models.Task) []*models.Conflict {
	var conflicts []*models.Conflict

	for _, keyword := range resourceKeywords {
		var contenders []*models.Task

		for _, task := range tasks {
			if task.Status == models.TaskStatusCompleted || task.Status == models.TaskStatusFailed {
				continue
			}

			text := strings.ToLower(task.Title + " " + task.Instructions)
			if strings.Contains(text, keyword) {
				contenders = append(contenders, task)
			}
		}

		if len(contenders) < 2 || !distinctAgents(contenders) {
			continue
		}

		participants := make([]models.ConflictParticipant, 0, len(contenders))
		taskIDs := make([]string, 0, len(contenders))

		for _, task := range contenders {
			participants = append(participants, models.ConflictParticipant{
				AgentType:  task.AgentType,
				Role:       "contender",
				Confidence: 0.5,
			})
			taskIDs = append(taskIDs, task.ID)
		}

		conflicts = append(conflicts, &models.Conflict{
			Type:         models.ConflictResourceContention,
			Severity:     models.SeverityLow,
			Description:  fmt.Sprintf("%d in-flight tasks contend for resource %q", len(contenders), keyword),
			Participants: participants,
			Evidence: models.ConflictEvidence{
				TaskIDs: taskIDs,
				Context: keyword,
			},
			DetectionConfidence: 0.5,
		})
	}

	return conflicts
}

// detectDependencyViolations flags tasks that require an artifact type no
// artifact satisfies.
func detectDependencyViolations(tasks []*models.Task, artifacts []*models.Artifact) []*models.Conflict {
	available := make(map[string]bool, len(artifacts))
	for _, artifact := range artifacts {
		available[artifact.Type] = true
	}

	var conflicts []*models.Conflict

	for _, task := range tasks {
		for _, required := range task.RequiredTypes {
			if available[required] {
				continue
			}

			conflicts = append(conflicts, &models.Conflict{
				Type:     models.ConflictDependencyViolation,
				Severity: models.SeverityHigh,
				TaskID:   task.ID,
				Description: fmt.Sprintf("task %q requires artifact type %q but none exists",
					task.Title, required),
				Participants: []models.ConflictParticipant{
					{AgentType: task.AgentType, Role: "dependent", Confidence: 0.9},
				},
				Evidence: models.ConflictEvidence{
					TaskIDs: []string{task.ID},
					Context: required,
				},
				DetectionConfidence: 0.9,
			})
		}
	}

	return conflicts
}

// tokenize lowercases content and returns its distinct word set, dropping
// punctuation and short stop-ish tokens.
func tokenize(content string) map[string]bool {
	tokens := make(map[string]bool)

	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-' && r != '_'
	})

	for _, word := range words {
		if len(word) < 3 {
			continue
		}

		tokens[word] = true
	}

	return tokens
}

// jaccardSimilarity is intersection over union of two token sets. Two empty
// sets are identical.
func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	intersection := 0

	for token := range a {
		if b[token] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}

	return float64(intersection) / float64(union)
}

// modalClaims extracts the subject word following a modal phrase ("must" or
// "must not") in each sentence.
func modalClaims(content, modal string) map[string]bool {
	claims := make(map[string]bool)
	lower := strings.ToLower(content)
	marker := modal + " "

	for {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			break
		}

		rest := lower[idx+len(marker):]
		lower = rest

		// "must" alone should not swallow "must not" claims.
		if modal == "must" && strings.HasPrefix(rest, "not ") {
			continue
		}

		fields := strings.FieldsFunc(rest, func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-' && r != '_'
		})
		if len(fields) == 0 {
			continue
		}

		claims[fields[0]] = true
	}

	return claims
}

// namedElements pulls the identifier following an element marker word.
func namedElements(content string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '-' && r != '_'
	})

	markers := make(map[string]bool, len(elementMarkers))
	for _, marker := range elementMarkers {
		markers[marker] = true
	}

	seen := make(map[string]bool)

	var elements []string

	for i := 0; i < len(tokens)-1; i++ {
		if !markers[tokens[i]] {
			continue
		}

		element := tokens[i+1]
		if len(element) < 3 || markers[element] || seen[element] {
			continue
		}

		seen[element] = true
		elements = append(elements, element)
	}

	return elements
}

func filterByType(artifacts []*models.Artifact, artifactType string) []*models.Artifact {
	var filtered []*models.Artifact

	for _, artifact := range artifacts {
		if artifact.Type == artifactType {
			filtered = append(filtered, artifact)
		}
	}

	return filtered
}

func distinctAgents(tasks []*models.Task) bool {
	agents := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		agents[task.AgentType] = true
	}

	return len(agents) > 1
}
