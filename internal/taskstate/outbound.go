package taskstate

import (
	"github.com/mjklaren/tism/internal/config"
	"github.com/mjklaren/tism/internal/message"
	"github.com/mjklaren/tism/internal/ringbuf"
)

// NewOutboundRings allocates one staging ring per core. The scheduler rebinds a
// task's Descriptor.Outbound to outbound[coreID] immediately before running it on
// that core; postman is the only reader of these rings directly (it drains both,
// regardless of which core it is itself currently running on).
func NewOutboundRings(cfg config.Config) []*ringbuf.Ring[message.Message] {
	rings := make([]*ringbuf.Ring[message.Message], cfg.MaxCores)
	for i := range rings {
		rings[i] = ringbuf.New[message.Message](cfg.MaxMessagesPerRing)
	}
	return rings
}
