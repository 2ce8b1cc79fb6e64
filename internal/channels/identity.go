package channels

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// IdentityCache remembers resolved participant identifiers per channel and
// sender for the process lifetime. Concurrent lookups of the same sender
// share one resolver call.
type IdentityCache struct {
	resolved sync.Map // "channel\x00sender" -> string
	group    singleflight.Group
}

func NewIdentityCache() *IdentityCache {
	return &IdentityCache{}
}

// Resolve returns the participant identifier for senderID on ch. Channels
// that do not implement IdentityResolver use the sender id as-is.
func (c *IdentityCache) Resolve(ctx context.Context, ch Channel, senderID string) (string, error) {
	if senderID == "" {
		return "", fmt.Errorf("%w: empty sender id", ErrIdentityUnresolved)
	}
	resolver, ok := ch.(IdentityResolver)
	if !ok {
		return senderID, nil
	}

	key := ch.Name() + "\x00" + senderID
	if v, ok := c.resolved.Load(key); ok {
		return v.(string), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		id, err := resolver.ResolveIdentity(ctx, senderID)
		if err != nil {
			return "", fmt.Errorf("%w: %s on %s: %v", ErrIdentityUnresolved, senderID, ch.Name(), err)
		}
		if id == "" {
			return "", fmt.Errorf("%w: %s on %s", ErrIdentityUnresolved, senderID, ch.Name())
		}
		c.resolved.Store(key, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
