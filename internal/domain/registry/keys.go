package registry

// Well-known registry-level property keys.
const (
	// PropOwner names the component that registered the capability.
	PropOwner = "owner"

	// PropRanking orders capabilities when several could serve; lower
	// ranked capabilities yield to higher ones.
	PropRanking = "service.ranking"
)
