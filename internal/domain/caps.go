package domain

// Capability objects are the engine's only authorization mechanism:
// possession of the handle, not caller identity, grants the right to call
// gated operations. The handles are opaque (unexported binding) so they
// cannot be forged outside the constructors, and every gated call checks
// that the binding matches the target instance.

// AdminCap authorizes lifecycle transitions on one market's state machine.
type AdminCap struct {
	marketID MarketID
}

// NewAdminCap binds an admin capability to a market. Called exactly once,
// at proposal creation.
func NewAdminCap(id MarketID) AdminCap {
	return AdminCap{marketID: id}
}

// BoundTo reports whether the capability is bound to the given market.
func (c AdminCap) BoundTo(id MarketID) bool {
	return c.marketID == id
}

// TokenManagerCap authorizes escrow mutations (supply registration, minting,
// burning) for one market.
type TokenManagerCap struct {
	marketID MarketID
}

// NewTokenManagerCap binds a token-manager capability to a market.
func NewTokenManagerCap(id MarketID) TokenManagerCap {
	return TokenManagerCap{marketID: id}
}

// BoundTo reports whether the capability is bound to the given market.
func (c TokenManagerCap) BoundTo(id MarketID) bool {
	return c.marketID == id
}
