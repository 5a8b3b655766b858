package relay

import (
	"errors"
	"sync/atomic"

	"camera-relay/internal/media"
)

// ErrNotReady is returned while the media engine has not finished initializing.
var ErrNotReady = errors.New("media router not ready")

// Negotiator hands out the router's capability descriptor. It is safe for
// concurrent use and reports ErrNotReady until SetRouter is called.
type Negotiator struct {
	router atomic.Pointer[routerRef]
}

type routerRef struct {
	media.Router
}

// NewNegotiator returns a Negotiator with no router.
func NewNegotiator() *Negotiator {
	return &Negotiator{}
}

// SetRouter publishes the initialized router.
func (n *Negotiator) SetRouter(r media.Router) {
	n.router.Store(&routerRef{Router: r})
}

// Router returns the router or ErrNotReady.
func (n *Negotiator) Router() (media.Router, error) {
	ref := n.router.Load()
	if ref == nil {
		return nil, ErrNotReady
	}
	return ref.Router, nil
}

// Capabilities returns the router's capability descriptor or ErrNotReady.
func (n *Negotiator) Capabilities() (media.RtpCapabilities, error) {
	r, err := n.Router()
	if err != nil {
		return media.RtpCapabilities{}, err
	}
	return r.RtpCapabilities(), nil
}

// Ready reports whether capabilities can be obtained.
func (n *Negotiator) Ready() bool {
	return n.router.Load() != nil
}
