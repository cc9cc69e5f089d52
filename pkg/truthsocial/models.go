package truthsocial

import "github.com/tidwall/gjson"

// Account is the subset of the account record the harvester needs
type Account struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Acct          string `json:"acct"`
	DisplayName   string `json:"display_name"`
	StatusesCount int64  `json:"statuses_count"`
}

// parseAccount reads an account record; ids may be strings or numbers.
func parseAccount(body []byte) Account {
	result := gjson.ParseBytes(body)
	return Account{
		ID:            result.Get("id").String(),
		Username:      result.Get("username").String(),
		Acct:          result.Get("acct").String(),
		DisplayName:   result.Get("display_name").String(),
		StatusesCount: result.Get("statuses_count").Int(),
	}
}
