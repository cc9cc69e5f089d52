package truthsocial

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tsscraper/pkg/models"
)

const (
	// DefaultBaseURL is the Truth Social web origin
	DefaultBaseURL = "https://truthsocial.com"

	// LookupEndpoint resolves a handle to an account
	LookupEndpoint = "/api/v1/accounts/lookup"

	// StatusesEndpoint is the timeline pattern; %s is the account id
	StatusesEndpoint = "/api/v1/accounts/%s/statuses"

	// DefaultPageLimit is the page size requested from the timeline
	DefaultPageLimit = 20

	// MaxPageLimit is the largest page size the API honours
	MaxPageLimit = 40
)

// GetLookupURL constructs the URL resolving a handle to an account
func GetLookupURL(baseURL, handle string) string {
	params := url.Values{}
	params.Set("acct", strings.TrimPrefix(handle, "@"))

	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), LookupEndpoint, params.Encode())
}

// GetStatusesURL constructs the URL of one timeline page. The newest page
// is requested when cursor is none.
func GetStatusesURL(baseURL, accountID string, cursor models.Cursor, limit int) string {
	if limit <= 0 {
		limit = DefaultPageLimit
	} else if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	params := url.Values{}
	params.Set("exclude_replies", "true")
	params.Set("only_replies", "false")
	params.Set("with_muted", "true")
	params.Set("limit", strconv.Itoa(limit))
	if !cursor.IsNone() {
		params.Set("max_id", string(cursor))
	}

	path := fmt.Sprintf(StatusesEndpoint, url.PathEscape(accountID))
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), path, params.Encode())
}
