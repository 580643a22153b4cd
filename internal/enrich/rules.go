package enrich

import (
	"strings"

	"github.com/hitoshi/ainews/internal/model"
)

// categoryRule はキーワードのいずれかを含む場合にカテゴリを決める規則。
type categoryRule struct {
	keywords []string
	slug     model.CategorySlug
}

// categoryRules は上から順に評価し、最初に一致した規則を採用する。順序に意味がある。
var categoryRules = []categoryRule{
	{[]string{"research", "paper", "study"}, model.CategoryResearch},
	{[]string{"ethics", "policy", "regulation"}, model.CategoryEthicsPolicy},
	{[]string{"industry", "business", "market"}, model.CategoryAIIndustry},
	{[]string{"application", "deployment", "use case"}, model.CategoryApplications},
}

// Categorize はタイトルと本文のキーワードからカテゴリを決める。
// どの規則にも一致しない場合はmachine-learning。
func Categorize(title, content string) model.CategorySlug {
	text := strings.ToLower(title + " " + content)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.slug
			}
		}
	}
	return model.CategoryMachineLearning
}

// MaxTags は1記事に付与するタグの上限。
const MaxTags = 5

// tagVocabulary はタグの語彙。結果はこの順序で返す。
var tagVocabulary = []string{
	"AI",
	"Machine Learning",
	"Deep Learning",
	"Neural Networks",
	"OpenAI",
	"Google",
	"Microsoft",
	"Meta",
	"Research",
	"Technology",
}

// ExtractTags は語彙のうちタイトルか本文に含まれるものを最大MaxTags個返す。
// 大文字小文字は区別しない部分一致。
func ExtractTags(title, content string) []string {
	text := strings.ToLower(title + " " + content)
	tags := make([]string, 0, MaxTags)
	for _, tag := range tagVocabulary {
		if strings.Contains(text, strings.ToLower(tag)) {
			tags = append(tags, tag)
			if len(tags) == MaxTags {
				break
			}
		}
	}
	return tags
}

// preferredAuthors はカテゴリごとの担当著者名。
var preferredAuthors = map[model.CategorySlug]string{
	model.CategoryMachineLearning: "Claude AI Reporter",
	model.CategoryAIIndustry:      "GPT News Writer",
	model.CategoryResearch:        "Claude AI Reporter",
	model.CategoryEthicsPolicy:    "Gemini Analyst",
	model.CategoryApplications:    "GPT News Writer",
}

// SelectAuthor はカテゴリの担当著者を返す。
// 担当著者が登録されていない場合は先頭の著者、著者がいない場合はnil。
func SelectAuthor(authors []*model.Author, category model.CategorySlug) *model.Author {
	if len(authors) == 0 {
		return nil
	}
	if name, ok := preferredAuthors[category]; ok {
		for _, a := range authors {
			if a.Name == name {
				return a
			}
		}
	}
	return authors[0]
}

// wordsPerMinute は読了時間の算出に使う1分あたりの語数。
const wordsPerMinute = 200

// ReadTime は本文の語数から読了時間（分）を求める。最小1分。
func ReadTime(content string) int {
	words := len(strings.Fields(content))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}
