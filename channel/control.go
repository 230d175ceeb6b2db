package channel

import (
	"github.com/openmediatransport/omt/media"
	"github.com/openmediatransport/omt/metadata"
)

// processControl inspects a completed Metadata frame for control documents.
// Recognized documents mutate channel state and are absorbed (true); typed
// item streams and unrecognized XML belong to the consumer (false). An
// empty Metadata payload is invalid data and fatal to the channel.
func (c *Channel) processControl(f *media.Frame) (bool, error) {
	if f.Kind != media.KindMetadata {
		return false, nil
	}
	if len(f.Data) == 0 {
		return false, errEmptyMetadata
	}
	if metadata.IsTyped(f.Data) {
		return false, nil
	}

	ctl, ok := metadata.ParseControl(f.Data)
	if !ok {
		return false, nil
	}

	switch ctl.Kind {
	case metadata.ControlSubscribe:
		c.mu.Lock()
		c.mask |= ctl.Subscribe.Bit()
		c.mu.Unlock()
		c.log.Debug("subscribed", "kind", ctl.Subscribe)

	case metadata.ControlTally:
		c.mu.Lock()
		changed := c.tally != ctl.Tally
		c.tally = ctl.Tally
		c.mu.Unlock()
		if changed {
			c.emit(Event{Kind: EventTallyChanged, Tally: ctl.Tally})
		}

	case metadata.ControlPreviewVideo:
		c.mu.Lock()
		c.preview = ctl.PreviewOn
		c.mu.Unlock()

	case metadata.ControlSuggestedQuality:
		c.mu.Lock()
		c.quality = ctl.Quality
		c.mu.Unlock()

	case metadata.ControlSenderInfo:
		c.mu.Lock()
		c.info = ctl.Info
		c.mu.Unlock()

	case metadata.ControlRedirect:
		c.mu.Lock()
		c.redirect = ctl.Address
		c.mu.Unlock()
		c.emit(Event{Kind: EventRedirectChanged, Address: ctl.Address})
	}

	return true, nil
}
