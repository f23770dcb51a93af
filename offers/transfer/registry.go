package transfer

// HandlerRegistry maps accounts to their registered default offer handler.
// At most one handler per owner; re-registration overwrites unconditionally.
type HandlerRegistry struct {
	handlers map[Account]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[Account]Handler)}
}

// Register installs handler as the owner's default offer processor.
// A nil handler, or one whose account is the owner itself, restores the
// default "no handler" behavior.
func (r *HandlerRegistry) Register(owner Account, handler Handler) {
	if handler == nil || handler.Account() == owner {
		delete(r.handlers, owner)
		return
	}

	r.handlers[owner] = handler
}

// Lookup returns the owner's registered handler, if any.
func (r *HandlerRegistry) Lookup(owner Account) (Handler, bool) {
	handler, ok := r.handlers[owner]
	return handler, ok
}
