package proxy

import (
	"encoding/json"

	"aiproxy-go/internal/cache"
)

// Keys are the derived identifiers of one cacheable request. The encryption
// key mixes in the caller token, so the cache key alone never decrypts.
type Keys struct {
	Data       string
	Cache      string
	Encryption string
}

type fingerprint struct {
	URL          string `json:"url"`
	Body         string `json:"body"`
	AuthToken    string `json:"authToken,omitempty"`
	OrgName      string `json:"orgName,omitempty"`
	EndpointName string `json:"endpointName,omitempty"`
}

// KeyOptions control which caller attributes enter the fingerprint.
type KeyOptions struct {
	Prefix           string
	ExcludeAuthToken bool
	ExcludeOrgName   bool
}

// DeriveKeys hashes the request fingerprint into the data, cache and
// encryption keys.
func DeriveKeys(url string, body []byte, authToken, orgName, endpointName string, opts KeyOptions) Keys {
	fp := fingerprint{URL: url, Body: string(body), EndpointName: endpointName}
	if !opts.ExcludeAuthToken {
		fp.AuthToken = authToken
	}
	if !opts.ExcludeOrgName {
		fp.OrgName = orgName
	}
	raw, _ := json.Marshal(fp)
	data := cache.Digest(string(raw))
	return Keys{
		Data:       data,
		Cache:      opts.Prefix + cache.Digest(data),
		Encryption: cache.Digest(data + authToken),
	}
}
