package core

// ServiceCall is one invocation of a registered service.
type ServiceCall struct {
	Domain         string              `json:"domain"`
	Service        string              `json:"service"`
	Data           map[string]any      `json:"service_data"`
	Context        *Context            `json:"context"`
	ReturnResponse bool                `json:"return_response"`
	// Target ids are merged into Data after the schema has accepted Data.
	Target         map[string][]string `json:"target,omitempty"`
}

// NewServiceCall builds a call with a fresh context and non-nil data.
func NewServiceCall(domain, service string, data map[string]any) ServiceCall {
	if data == nil {
		data = map[string]any{}
	}
	return ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Context: NewContext(),
	}
}
