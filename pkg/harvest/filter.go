package harvest

import (
	"strings"

	"github.com/tidwall/gjson"

	"tsscraper/pkg/models"
)

// KeywordFilter keeps items whose content contains keyword, ignoring
// case. An empty keyword disables filtering and returns nil.
//
// Pages left empty by the filter are still saved, but a resumed run
// restarts after the last page that kept an item, so trailing empty pages
// are fetched and saved again under new page numbers.
func KeywordFilter(keyword string) func([]models.Item) []models.Item {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil
	}

	return func(items []models.Item) []models.Item {
		kept := make([]models.Item, 0, len(items))
		for _, item := range items {
			content := gjson.GetBytes(item.Raw, "content").String()
			if strings.Contains(strings.ToLower(content), keyword) {
				kept = append(kept, item)
			}
		}
		return kept
	}
}
