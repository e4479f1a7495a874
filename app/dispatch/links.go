package dispatch

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lysyi3m/autopress/app/database"
)

// LinkCandidateLimit bounds how many completed tasks are considered for ranking.
const LinkCandidateLimit = 50

type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func significantWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 4 {
			words[w] = true
		}
	}
	return words
}

// RankLinks orders candidates by shared words with the task's topic and
// keywords. Candidates arrive newest first and ties keep that order.
func RankLinks(task *database.Task, candidates []database.Task, siteURL string, max int) []Link {
	if max <= 0 || len(candidates) == 0 {
		return nil
	}

	target := significantWords(task.Topic + " " + task.Keywords + " " + task.TitleOverride)

	type scored struct {
		task  database.Task
		score int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.ResultSlug == "" {
			continue
		}
		score := 0
		for w := range significantWords(c.ResultTitle + " " + c.Topic + " " + c.Keywords) {
			if target[w] {
				score++
			}
		}
		ranked = append(ranked, scored{task: c, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	base := strings.TrimRight(siteURL, "/")
	var links []Link
	for _, r := range ranked {
		if len(links) == max {
			break
		}
		title := r.task.ResultTitle
		if title == "" {
			title = r.task.Topic
		}
		links = append(links, Link{Title: title, URL: base + "/" + r.task.ResultSlug + "/"})
	}
	return links
}
