package filter

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// bannedKeywords перечисляет запрещённые политикой слова.
var bannedKeywords = []string{
	"hate", "harassment", "bullying", "doxxing", "spam", "scam",
	"phishing", "malware", "virus", "illegal", "drugs", "weapons",
}

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`click\s+here`),
	regexp.MustCompile(`buy\s+now`),
	regexp.MustCompile(`limited\s+time`),
	regexp.MustCompile(`act\s+fast`),
	regexp.MustCompile(`free\s+money`),
	regexp.MustCompile(`\$\$\$+`),
	regexp.MustCompile(`!!!!!+`),
}

// ContentFilter отсеивает заметки по мьютам, политике и спам-эвристикам.
// Проверки применяются по порядку, заметка получает первую сработавшую причину.
type ContentFilter struct{}

var _ domain.Filter = (*ContentFilter)(nil)

// New создаёт фильтр контента.
func New() *ContentFilter {
	return &ContentFilter{}
}

// Apply возвращает прошедшие заметки и счётчики отказов по причинам.
func (f *ContentFilter) Apply(ctx context.Context, profile domain.UserProfile, notes []domain.Note) ([]domain.Note, domain.FilterStats) {
	passed := make([]domain.Note, 0, len(notes))
	stats := make(domain.FilterStats)
	for _, note := range notes {
		if reason, blocked := f.blockReason(profile, note); blocked {
			stats[reason]++
			metrics.FilterRejections.WithLabelValues(string(reason)).Inc()
			continue
		}
		passed = append(passed, note)
	}
	return passed, stats
}

func (f *ContentFilter) blockReason(profile domain.UserProfile, note domain.Note) (domain.FilterReason, bool) {
	if _, muted := profile.MutedUsers[note.AuthorID]; muted {
		return domain.FilterMutedUser, true
	}
	if containsMutedKeyword(profile, note) {
		return domain.FilterMutedKeyword, true
	}
	if violatesPolicy(note.Text) {
		return domain.FilterPolicyViolation, true
	}
	if isSpam(note.Text) {
		return domain.FilterSpamDetected, true
	}
	if !meetsEngagementThreshold(profile, note) {
		return domain.FilterLowEngagement, true
	}
	return "", false
}

// containsMutedKeyword ищет мьюченные слова в тексте и среди хэштегов.
func containsMutedKeyword(profile domain.UserProfile, note domain.Note) bool {
	if len(profile.MutedKeywords) == 0 {
		return false
	}
	loweredText := strings.ToLower(note.Text)
	for _, keyword := range profile.MutedKeywords {
		if strings.Contains(loweredText, strings.ToLower(keyword)) {
			return true
		}
	}
	for _, hashtag := range note.Hashtags {
		loweredTag := strings.ToLower(hashtag)
		for _, keyword := range profile.MutedKeywords {
			if loweredTag == strings.ToLower(keyword) {
				return true
			}
		}
	}
	return false
}

func violatesPolicy(text string) bool {
	lowered := strings.ToLower(text)
	for _, banned := range bannedKeywords {
		if strings.Contains(lowered, banned) {
			return true
		}
	}
	return false
}

func isSpam(text string) bool {
	lowered := strings.ToLower(text)
	for _, pattern := range spamPatterns {
		if pattern.MatchString(lowered) {
			return true
		}
	}
	return hasExcessiveCaps(text)
}

// hasExcessiveCaps срабатывает при доле заглавных более 70% на текстах от 10 символов.
func hasExcessiveCaps(text string) bool {
	runes := []rune(text)
	if len(runes) < 10 {
		return false
	}
	caps := 0
	for _, r := range runes {
		if unicode.IsUpper(r) {
			caps++
		}
	}
	return float64(caps)/float64(len(runes)) > 0.7
}

// meetsEngagementThreshold пропускает всё для новых пользователей,
// активным скрывает заметки с просмотрами без единой реакции.
func meetsEngagementThreshold(profile domain.UserProfile, note domain.Note) bool {
	if profile.EngagementScore < 0.3 {
		return true
	}
	if note.Engagements() == 0 && note.Views > 100 {
		return false
	}
	return true
}
