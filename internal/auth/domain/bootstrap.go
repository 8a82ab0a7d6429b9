package domain

// SeedData is everything the bootstrap writes into an empty store.
type SeedData struct {
	AdminUsername string
	AdminPassword string // generated when empty
	AdminRole     string
	Roles         []RoleDefinition
	Clients       []ClientDefinition
}

type RoleDefinition struct {
	Name   string
	Scopes []string
}

type ClientDefinition struct {
	ID           string
	Name         string
	Type         ClientType
	RedirectURIs []string
	Scopes       []string
}
