package sonos

import (
	"encoding/xml"
	"strings"
)

// Metadata is the display data Sonos shows for a casting stream.
type Metadata struct {
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
}

// BuildDIDL renders the CurrentURIMetaData DIDL-Lite document Sonos
// expects alongside SetAVTransportURI, with every interpolated field
// XML-escaped. Built with encoding/xml's Marshal rather than string
// concatenation so escaping can never be missed.
func BuildDIDL(meta Metadata, streamURL string) (string, error) {
	doc := didlLite{
		XMLNSDC:   "http://purl.org/dc/elements/1.1/",
		XMLNSUPnP: "urn:schemas-upnp-org:metadata-1-0/upnp/",
		XMLNS:     "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		Item: didlItem{
			ID:         "0",
			ParentID:   "-1",
			Restricted: "true",
			Title:      meta.Title,
			Creator:    meta.Artist,
			Album:      meta.Album,
			ArtworkURI: meta.ArtworkURL,
			Class:      "object.item.audioItem.audioBroadcast",
			Res: didlRes{
				ProtocolInfo: "http-get:*:audio/*:*",
				URL:          streamURL,
			},
		},
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

type didlLite struct {
	XMLName   xml.Name `xml:"DIDL-Lite"`
	XMLNSDC   string   `xml:"xmlns:dc,attr"`
	XMLNSUPnP string   `xml:"xmlns:upnp,attr"`
	XMLNS     string   `xml:"xmlns,attr"`
	Item      didlItem `xml:"item"`
}

type didlItem struct {
	ID         string  `xml:"id,attr"`
	ParentID   string  `xml:"parentID,attr"`
	Restricted string  `xml:"restricted,attr"`
	Title      string  `xml:"dc:title"`
	Creator    string  `xml:"dc:creator"`
	Album      string  `xml:"upnp:album,omitempty"`
	ArtworkURI string  `xml:"upnp:albumArtURI,omitempty"`
	Class      string  `xml:"upnp:class"`
	Res        didlRes `xml:"res"`
}

type didlRes struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	URL          string `xml:",chardata"`
}

// EscapeXML is exposed for callers (e.g. the SOAP envelope builder) that
// interpolate values into hand-written XML rather than using
// encoding/xml's struct marshaling.
func EscapeXML(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
