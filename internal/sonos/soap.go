package sonos

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ivugurura/sonos-caster/internal/sonoserr"
)

const (
	urnAVTransport      = "urn:schemas-upnp-org:service:AVTransport:1"
	urnRenderingControl = "urn:schemas-upnp-org:service:RenderingControl:1"

	pathAVTransportControl      = "/MediaRenderer/AVTransport/Control"
	pathRenderingControlControl = "/MediaRenderer/RenderingControl/Control"
)

type soapFaultEnvelope struct {
	Body struct {
		Fault struct {
			FaultString string `xml:"faultstring"`
			Detail      struct {
				UPnPError struct {
					ErrorCode string `xml:"errorCode"`
				} `xml:"UPnPError"`
			} `xml:"detail"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// Client sends SOAP control requests to a Sonos speaker's UPnP control
// points. Kept narrow per the source's dynamic-dispatch guidance: only
// the operations the coordinator and volume router actually need, so a
// test double can implement it trivially.
type Client interface {
	SetAVTransportURI(ctx context.Context, speakerIP, uri, didl string) error
	Play(ctx context.Context, speakerIP string) error
	Stop(ctx context.Context, speakerIP string) error
	BecomeCoordinatorOfStandaloneGroup(ctx context.Context, speakerIP string) error
	GetPositionInfo(ctx context.Context, speakerIP string) (trackURI string, relTimeMs int64, err error)

	GetGroupVolume(ctx context.Context, speakerIP string) (int, error)
	SetGroupVolume(ctx context.Context, speakerIP string, volume int) error
	GetGroupMute(ctx context.Context, speakerIP string) (bool, error)
	SetGroupMute(ctx context.Context, speakerIP string, mute bool) error
	GetVolume(ctx context.Context, speakerIP string) (int, error)
	SetVolume(ctx context.Context, speakerIP string, volume int) error
	GetMute(ctx context.Context, speakerIP string) (bool, error)
	SetMute(ctx context.Context, speakerIP string, mute bool) error
}

// RestyClient is the resty-backed implementation of Client. Every
// operation is a short-timeout SOAP POST with fault parsing on non-2xx.
type RestyClient struct {
	http *resty.Client
}

func NewRestyClient() *RestyClient {
	return &RestyClient{
		http: resty.New().SetTimeout(5 * time.Second),
	}
}

func (c *RestyClient) soapPost(ctx context.Context, speakerIP, path, urn, action, argsXML string) (string, error) {
	envelope := fmt.Sprintf(
		`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body><u:%s xmlns:u="%s">%s</u:%s></s:Body></s:Envelope>`,
		action, urn, argsXML, action,
	)

	url := fmt.Sprintf("http://%s:1400%s", speakerIP, path)
	soapAction := fmt.Sprintf(`"%s#%s"`, urn, action)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", `text/xml; charset="utf-8"`).
		SetHeader("SOAPACTION", soapAction).
		SetBody(envelope).
		Post(url)
	if err != nil {
		return "", sonoserr.Wrap(sonoserr.KindUnreachable, "soap request to "+speakerIP+" failed", err)
	}

	body := resp.String()
	if resp.IsError() {
		return "", parseFault(action, resp.StatusCode(), body)
	}
	return body, nil
}

func parseFault(action string, status int, body string) error {
	var fault soapFaultEnvelope
	if err := xml.Unmarshal([]byte(body), &fault); err == nil && fault.Body.Fault.Detail.UPnPError.ErrorCode != "" {
		code, _ := strconv.Atoi(fault.Body.Fault.Detail.UPnPError.ErrorCode)
		return &sonoserr.SoapFault{Code: code, Message: fault.Body.Fault.FaultString}
	}
	return sonoserr.New(sonoserr.KindSoapFault, fmt.Sprintf("soap %s failed: http %d", action, status))
}
