package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/openmediatransport/omt/media"
)

// The literal control documents recognized by the channel. Frames carrying
// one of these are absorbed by the channel rather than surfaced to the
// consumer; they are the protocol's own control plane.
const (
	DocSubscribeVideo      = "<SubscribeVideo/>"
	DocSubscribeAudio      = "<SubscribeAudio/>"
	DocSubscribeMetadata   = "<SubscribeMetadata/>"
	DocTallyPreviewProgram = "<TallyPreviewProgram/>"
	DocTallyProgram        = "<TallyProgram/>"
	DocTallyPreview        = "<TallyPreview/>"
	DocTallyNone           = "<TallyNone/>"
	DocPreviewVideoOn      = "<PreviewVideoOn/>"
	DocPreviewVideoOff     = "<PreviewVideoOff/>"
)

// ControlKind discriminates the parsed control document variants.
type ControlKind int

const (
	ControlSubscribe ControlKind = iota + 1
	ControlTally
	ControlPreviewVideo
	ControlSuggestedQuality
	ControlSenderInfo
	ControlRedirect
)

// Control is a decoded control document.
type Control struct {
	Kind ControlKind

	Subscribe media.FrameKind  // ControlSubscribe
	Tally     media.Tally      // ControlTally
	PreviewOn bool             // ControlPreviewVideo
	Quality   media.Quality    // ControlSuggestedQuality
	Info      media.SenderInfo // ControlSenderInfo
	Address   string           // ControlRedirect
}

type suggestedQualityDoc struct {
	XMLName xml.Name `xml:"SuggestedQuality"`
	Quality string   `xml:"Quality,attr"`
}

type senderInfoDoc struct {
	XMLName      xml.Name `xml:"SenderInfo"`
	Name         string   `xml:"Name,attr"`
	Manufacturer string   `xml:"Manufacturer,attr"`
	Version      string   `xml:"Version,attr"`
}

type redirectDoc struct {
	XMLName xml.Name `xml:"Redirect"`
	Address string   `xml:"Address,attr"`
}

// ParseControl decodes a Metadata payload as a control document. It returns
// ok=false for any payload that is not part of the control vocabulary, in
// which case the frame belongs to the consumer.
func ParseControl(payload []byte) (Control, bool) {
	doc := strings.TrimSpace(string(payload))

	switch doc {
	case DocSubscribeVideo:
		return Control{Kind: ControlSubscribe, Subscribe: media.KindVideo}, true
	case DocSubscribeAudio:
		return Control{Kind: ControlSubscribe, Subscribe: media.KindAudio}, true
	case DocSubscribeMetadata:
		return Control{Kind: ControlSubscribe, Subscribe: media.KindMetadata}, true
	case DocTallyPreviewProgram:
		return Control{Kind: ControlTally, Tally: media.Tally{Preview: true, Program: true}}, true
	case DocTallyProgram:
		return Control{Kind: ControlTally, Tally: media.Tally{Program: true}}, true
	case DocTallyPreview:
		return Control{Kind: ControlTally, Tally: media.Tally{Preview: true}}, true
	case DocTallyNone:
		return Control{Kind: ControlTally}, true
	case DocPreviewVideoOn:
		return Control{Kind: ControlPreviewVideo, PreviewOn: true}, true
	case DocPreviewVideoOff:
		return Control{Kind: ControlPreviewVideo}, true
	}

	switch {
	case strings.HasPrefix(doc, "<SuggestedQuality"):
		var d suggestedQualityDoc
		if xml.Unmarshal([]byte(doc), &d) != nil {
			return Control{}, false
		}
		return Control{Kind: ControlSuggestedQuality, Quality: media.ParseQuality(d.Quality)}, true

	case strings.HasPrefix(doc, "<SenderInfo"):
		var d senderInfoDoc
		if xml.Unmarshal([]byte(doc), &d) != nil {
			return Control{}, false
		}
		return Control{Kind: ControlSenderInfo, Info: media.SenderInfo{
			Name:         d.Name,
			Manufacturer: d.Manufacturer,
			Version:      d.Version,
		}}, true

	case strings.HasPrefix(doc, "<Redirect"):
		var d redirectDoc
		if xml.Unmarshal([]byte(doc), &d) != nil {
			return Control{}, false
		}
		return Control{Kind: ControlRedirect, Address: d.Address}, true
	}

	return Control{}, false
}

// SubscribeDoc returns the subscription document for a frame kind.
func SubscribeDoc(k media.FrameKind) string {
	switch k {
	case media.KindVideo:
		return DocSubscribeVideo
	case media.KindAudio:
		return DocSubscribeAudio
	default:
		return DocSubscribeMetadata
	}
}

// TallyDoc returns the tally document for the given state.
func TallyDoc(t media.Tally) string {
	switch {
	case t.Preview && t.Program:
		return DocTallyPreviewProgram
	case t.Program:
		return DocTallyProgram
	case t.Preview:
		return DocTallyPreview
	default:
		return DocTallyNone
	}
}

// PreviewVideoDoc returns the preview-mode document for on/off.
func PreviewVideoDoc(on bool) string {
	if on {
		return DocPreviewVideoOn
	}
	return DocPreviewVideoOff
}

// SuggestedQualityDoc builds the quality-hint document.
func SuggestedQualityDoc(q media.Quality) string {
	return fmt.Sprintf(`<SuggestedQuality Quality="%s"/>`, q)
}

// SenderInfoDoc builds the sender identity document.
func SenderInfoDoc(info media.SenderInfo) string {
	return fmt.Sprintf(`<SenderInfo Name="%s" Manufacturer="%s" Version="%s"/>`,
		xmlEscape(info.Name), xmlEscape(info.Manufacturer), xmlEscape(info.Version))
}

// RedirectDoc builds the redirect document.
func RedirectDoc(address string) string {
	return fmt.Sprintf(`<Redirect Address="%s"/>`, xmlEscape(address))
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
