package push

import (
	"git.ronaksoft.com/flexipush/core/pkg/errs"
	tools "git.ronaksoft.com/flexipush/core/pkg/toolbox"
)

/*
   Creation Time: 2021 - Aug - 05
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// Type tags the class of notification. It only drives payload
// templating, never transport selection.
type Type int

const (
	Message Type = iota
	Call
	RemoteBasic
	Background
)

func (t Type) String() string {
	switch t {
	case Message:
		return "Message"
	case Call:
		return "Call"
	case RemoteBasic:
		return "RemoteBasic"
	case Background:
		return "Background"
	default:
		return "Unknown"
	}
}

// Destination is one addressable target for a given Type: the raw
// device identifier plus the provider tag used to pick a Client.
type Destination struct {
	DeviceToken string
	Provider    string
}

// Info is an immutable description of one notification intent.
// Build it with NewInfo, which enforces the "at least one destination"
// invariant.
type Info struct {
	AppID        string
	Category     Type
	Destinations map[Type]Destination
	CallerName   string
	Badge        *int
	CustomVars   tools.MS
	TTL          int
	CollapseKey  string
	EventID      string
}

// NewInfo validates the destination invariant before returning an Info.
func NewInfo(appID string, category Type, destinations map[Type]Destination) (*Info, error) {
	if len(destinations) == 0 {
		return nil, errs.NewInvalidArgument("push info requires at least one destination")
	}

	return &Info{
		AppID:        appID,
		Category:     category,
		Destinations: destinations,
		CustomVars:   tools.MS{},
	}, nil
}

// DestinationFor returns the destination registered for push type t,
// the usual lookup a Client performs when building the wire body.
func (i *Info) DestinationFor(t Type) (Destination, bool) {
	d, ok := i.Destinations[t]
	return d, ok
}
