package paxos

type RoleError struct {
	reason string
}

func NewRoleError(reason string) *RoleError {
	return &RoleError{reason: reason}
}

func (e *RoleError) Error() string {
	return e.reason
}
