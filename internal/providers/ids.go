package providers

import "github.com/google/uuid"

// parseOrderID reads our order id echoed back by a provider. Providers that
// do not echo it leave the event to be routed by external id.
func parseOrderID(ref string) uuid.UUID {
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil
	}
	return id
}
