package auth

// Known OAuth scopes used by the activity service.
const (
	ScopeActivitiesRead  = "activities:read"
	ScopeActivitiesWrite = "activities:write"
	ScopeActivitiesAdmin = "activities:admin"
)
