package access

// Gate implements the Access Gate decision procedure (spec §4.2): token
// validation, user resolution, and a per-file permission check, all
// collapsed into a single boolean so handlers never branch on the
// reason — any failure is the same 401 Invalid Token response.
type Gate struct {
	validator *Validator
	source    Source
}

// NewGate returns a Gate checking tokens with validator and resolving
// permission from source.
func NewGate(validator *Validator, source Source) *Gate {
	return &Gate{validator: validator, source: source}
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	User    string
}

// Check runs the four-step Access Gate procedure against fileID:
//  1. validate token signature and FileId binding
//  2. extract the user name
//  3. look up permission for (user, fileID)
//  4. none -> deny; read -> allow iff !writeRequired; write -> allow
func (g *Gate) Check(token, fileID string, writeRequired bool) Decision {
	claims, err := g.validator.Validate(token, fileID)
	if err != nil {
		return Decision{Allowed: false}
	}

	switch g.source.Permission(claims.User, fileID) {
	case PermissionWrite:
		return Decision{Allowed: true, User: claims.User}
	case PermissionRead:
		return Decision{Allowed: !writeRequired, User: claims.User}
	default:
		return Decision{Allowed: false, User: claims.User}
	}
}
