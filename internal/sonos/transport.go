package sonos

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/ivugurura/sonos-caster/internal/sonoserr"
)

// SetAVTransportURI points speakerIP at uri with the given DIDL-Lite
// metadata. Used both to start real playback (the HTTP stream URL) and
// to join a sync group (a "x-rincon:{uuid}" URI).
func (c *RestyClient) SetAVTransportURI(ctx context.Context, speakerIP, uri, didl string) error {
	args := fmt.Sprintf(
		`<InstanceID>0</InstanceID><CurrentURI>%s</CurrentURI><CurrentURIMetaData>%s</CurrentURIMetaData>`,
		EscapeXML(uri), EscapeXML(didl),
	)
	_, err := c.soapPost(ctx, speakerIP, pathAVTransportControl, urnAVTransport, "SetAVTransportURI", args)
	return err
}

func (c *RestyClient) Play(ctx context.Context, speakerIP string) error {
	args := `<InstanceID>0</InstanceID><Speed>1</Speed>`
	_, err := c.soapPost(ctx, speakerIP, pathAVTransportControl, urnAVTransport, "Play", args)
	return err
}

// Stop issues AVTransport Stop. A 701 fault ("transition not available")
// means the speaker was already stopped and is treated as success.
func (c *RestyClient) Stop(ctx context.Context, speakerIP string) error {
	args := `<InstanceID>0</InstanceID>`
	_, err := c.soapPost(ctx, speakerIP, pathAVTransportControl, urnAVTransport, "Stop", args)
	if err != nil && sonoserr.IsStopAlreadyStopped(err) {
		return nil
	}
	return err
}

// BecomeCoordinatorOfStandaloneGroup removes a speaker from any sync
// group, making it its own standalone coordinator — the SOAP action
// backing "leave group".
func (c *RestyClient) BecomeCoordinatorOfStandaloneGroup(ctx context.Context, speakerIP string) error {
	args := `<InstanceID>0</InstanceID>`
	_, err := c.soapPost(ctx, speakerIP, pathAVTransportControl, urnAVTransport, "BecomeCoordinatorOfStandaloneGroup", args)
	return err
}

type positionInfoResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		GetPositionInfoResponse struct {
			TrackURI string `xml:"TrackURI"`
			RelTime  string `xml:"RelTime"`
		} `xml:"GetPositionInfoResponse"`
	} `xml:"Body"`
}

// GetPositionInfo returns the speaker's current track URI and its
// playback position in milliseconds, parsed from a "H:MM:SS" RelTime.
func (c *RestyClient) GetPositionInfo(ctx context.Context, speakerIP string) (string, int64, error) {
	args := `<InstanceID>0</InstanceID>`
	body, err := c.soapPost(ctx, speakerIP, pathAVTransportControl, urnAVTransport, "GetPositionInfo", args)
	if err != nil {
		return "", 0, err
	}
	var resp positionInfoResponse
	if err := xml.Unmarshal([]byte(body), &resp); err != nil {
		return "", 0, sonoserr.Wrap(sonoserr.KindSoapFault, "malformed GetPositionInfo response", err)
	}
	relMs, err := parseRelTimeMs(resp.Body.GetPositionInfoResponse.RelTime)
	if err != nil {
		return resp.Body.GetPositionInfoResponse.TrackURI, 0, nil
	}
	return resp.Body.GetPositionInfoResponse.TrackURI, relMs, nil
}

// parseRelTimeMs parses a UPnP "H:MM:SS" or "HH:MM:SS" position string
// into milliseconds.
func parseRelTimeMs(s string) (int64, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, err
	}
	return int64((h*3600+m*60+sec) * 1000), nil
}

func (c *RestyClient) GetGroupVolume(ctx context.Context, speakerIP string) (int, error) {
	return c.getVolume(ctx, speakerIP, "GetGroupVolume")
}

func (c *RestyClient) SetGroupVolume(ctx context.Context, speakerIP string, volume int) error {
	return c.setVolume(ctx, speakerIP, "SetGroupVolume", volume)
}

func (c *RestyClient) GetGroupMute(ctx context.Context, speakerIP string) (bool, error) {
	return c.getMute(ctx, speakerIP, "GetGroupMute")
}

func (c *RestyClient) SetGroupMute(ctx context.Context, speakerIP string, mute bool) error {
	return c.setMute(ctx, speakerIP, "SetGroupMute", mute)
}

func (c *RestyClient) GetVolume(ctx context.Context, speakerIP string) (int, error) {
	return c.getVolume(ctx, speakerIP, "GetVolume")
}

func (c *RestyClient) SetVolume(ctx context.Context, speakerIP string, volume int) error {
	return c.setVolume(ctx, speakerIP, "SetVolume", volume)
}

func (c *RestyClient) GetMute(ctx context.Context, speakerIP string) (bool, error) {
	return c.getMute(ctx, speakerIP, "GetMute")
}

func (c *RestyClient) SetMute(ctx context.Context, speakerIP string, mute bool) error {
	return c.setMute(ctx, speakerIP, "SetMute", mute)
}

type volumeResponse struct {
	Body struct {
		Resp struct {
			CurrentVolume string `xml:"CurrentVolume"`
			CurrentMute   string `xml:"CurrentMute"`
		} `xml:",any"`
	} `xml:"Body"`
}

func (c *RestyClient) getVolume(ctx context.Context, speakerIP, action string) (int, error) {
	args := `<InstanceID>0</InstanceID><Channel>Master</Channel>`
	body, err := c.soapPost(ctx, speakerIP, pathRenderingControlControl, urnRenderingControl, action, args)
	if err != nil {
		return 0, err
	}
	var resp volumeResponse
	if err := xml.Unmarshal([]byte(body), &resp); err != nil {
		return 0, sonoserr.Wrap(sonoserr.KindSoapFault, "malformed "+action+" response", err)
	}
	v, _ := strconv.Atoi(resp.Body.Resp.CurrentVolume)
	return v, nil
}

func (c *RestyClient) setVolume(ctx context.Context, speakerIP, action string, volume int) error {
	args := fmt.Sprintf(`<InstanceID>0</InstanceID><Channel>Master</Channel><DesiredVolume>%d</DesiredVolume>`, volume)
	_, err := c.soapPost(ctx, speakerIP, pathRenderingControlControl, urnRenderingControl, action, args)
	return err
}

func (c *RestyClient) getMute(ctx context.Context, speakerIP, action string) (bool, error) {
	args := `<InstanceID>0</InstanceID><Channel>Master</Channel>`
	body, err := c.soapPost(ctx, speakerIP, pathRenderingControlControl, urnRenderingControl, action, args)
	if err != nil {
		return false, err
	}
	var resp volumeResponse
	if err := xml.Unmarshal([]byte(body), &resp); err != nil {
		return false, sonoserr.Wrap(sonoserr.KindSoapFault, "malformed "+action+" response", err)
	}
	return resp.Body.Resp.CurrentMute == "1", nil
}

func (c *RestyClient) setMute(ctx context.Context, speakerIP, action string, mute bool) error {
	desired := "0"
	if mute {
		desired = "1"
	}
	args := fmt.Sprintf(`<InstanceID>0</InstanceID><Channel>Master</Channel><DesiredMute>%s</DesiredMute>`, desired)
	_, err := c.soapPost(ctx, speakerIP, pathRenderingControlControl, urnRenderingControl, action, args)
	return err
}
