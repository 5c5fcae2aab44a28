package rbac

// Scope is the slice of the sales universe a user may report over.
type Scope struct {
	Brands       []string `json:"brands"`
	Channels     []string `json:"channels"`
	Unrestricted bool     `json:"unrestricted"`
}

// Access bundles a user's permissions with their resolved data scope.
type Access struct {
	UserID      int64    `json:"userId"`
	Permissions []string `json:"permissions"`
	Scope       Scope    `json:"scope"`
}
