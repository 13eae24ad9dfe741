package context

type Key string

const (
	Claims      Key = "claims"
	Params      Key = "params"
	Credential  Key = "credential"
	Policy      Key = "policy"
	Decision    Key = "decision"
	Requirement Key = "requirement"
)
