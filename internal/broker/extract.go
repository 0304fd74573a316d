package broker

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
)

// Default locations of the tokens in brokerage responses.
const (
	DefaultTokenPath        = "$.token"
	DefaultTradingTokenPath = "$.tradingToken"
)

// ResponsePaths locates the tokens in the login and OTP exchange responses.
type ResponsePaths struct {
	Token        string
	TradingToken string
}

// WithDefaults fills empty paths.
func (p ResponsePaths) WithDefaults() ResponsePaths {
	if p.Token == "" {
		p.Token = DefaultTokenPath
	}
	if p.TradingToken == "" {
		p.TradingToken = DefaultTradingTokenPath
	}
	return p
}

// ExtractString evaluates a JSONPath expression against a JSON body and returns
// the non-empty string found there.
func ExtractString(body []byte, path string) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("response is not JSON: %w", err)
	}
	val, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", path, err)
	}
	// jsonpath returns a list for wildcard and slice expressions; keep the first match.
	if list, ok := val.([]any); ok {
		if len(list) == 0 {
			return "", fmt.Errorf("evaluate %q: no match", path)
		}
		val = list[0]
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("evaluate %q: %T is not a string", path, val)
	}
	if s == "" {
		return "", fmt.Errorf("evaluate %q: empty value", path)
	}
	return s, nil
}
