package credentials

type Credential struct {
	Identity string `json:"identity"`
	KeyHash  string `json:"key_hash"`
}
