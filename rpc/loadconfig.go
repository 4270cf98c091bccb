package rpc

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"go.netconf.dev/netconf"
)

// LoadType selects the merge strategy for LoadConfiguration, mirroring the
// "action" attribute Juniper devices accept on <load-configuration>.
type LoadType string

const (
	// LoadMerge merges the supplied configuration into the existing
	// candidate configuration.
	LoadMerge LoadType = "merge"

	// LoadReplace replaces the corresponding hierarchy level of the
	// candidate configuration with the supplied configuration.
	LoadReplace LoadType = "replace"

	// LoadOverride replaces the entire candidate configuration with the
	// supplied configuration.
	LoadOverride LoadType = "override"

	// LoadUpdate behaves like merge but additionally deletes any
	// statements present in the candidate but absent from the supplied
	// configuration.
	LoadUpdate LoadType = "update"

	// LoadSet applies a sequence of configuration-mode "set"/"delete"
	// statements. Always sent with format="text".
	LoadSet LoadType = "set"
)

// LoadConfiguration issues the Juniper <load-configuration> operation. It
// has no RFC6241 equivalent; devices that don't implement it will respond
// with an rpc-error of error-tag "operation-not-supported".
type LoadConfiguration struct {
	LoadType LoadType
	Config   any
}

func (rpc LoadConfiguration) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	// Junos distinguishes structured XML config from flat "set"-style
	// statements by element name, not just the format attribute:
	// <configuration> carries structured config, <configuration-set>
	// carries a sequence of CLI set/delete lines.
	configTag := "configuration"
	format := ""
	if rpc.LoadType == LoadSet {
		configTag = "configuration-set"
		format = "text"
	}

	type rawConfig struct {
		Inner string `xml:",innerxml"`
	}

	var config any
	switch v := rpc.Config.(type) {
	case string:
		config = rawConfig{Inner: v}
	case []byte:
		config = rawConfig{Inner: string(v)}
	default:
		config = rpc.Config
	}

	req := struct {
		XMLName xml.Name `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 load-configuration"`
		Action  string   `xml:"action,attr,omitempty"`
		Format  string   `xml:"format,attr,omitempty"`
		Config  any      `xml:"configuration"`
	}{
		Action: string(rpc.LoadType),
		Format: format,
		Config: config,
	}

	if configTag == "configuration-set" {
		setReq := struct {
			XMLName xml.Name `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 load-configuration"`
			Action  string   `xml:"action,attr,omitempty"`
			Format  string   `xml:"format,attr,omitempty"`
			Config  any      `xml:"configuration-set"`
		}{
			Action: string(rpc.LoadType),
			Format: format,
			Config: config,
		}
		return e.Encode(&setReq)
	}

	return e.Encode(&req)
}

// LoadConfigurationResults reports the outcome of a LoadConfiguration: the
// action echoed by the device, whether the load was accepted, and any
// per-statement diagnostics. Errors holds every <rpc-error> the device
// returned, warnings included; a load that succeeded with warnings has
// OK true and a non-empty Errors list.
type LoadConfigurationResults struct {
	Action string
	OK     bool
	Errors netconf.RPCErrors
}

// loadConfigurationResultsReply is the Juniper reply envelope for
// <load-configuration>, used in place of the plain <rpc-reply><ok/> shape
// when the device reports per-statement results nested under
// <load-configuration-results>.
type loadConfigurationResultsReply struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 rpc-reply"`
	Results struct {
		Action string            `xml:"action,attr"`
		OK     ExtantBool        `xml:"ok"`
		Errors netconf.RPCErrors `xml:"rpc-error,omitempty"`
	} `xml:"load-configuration-results"`
}

// hasResultsEnvelope reports whether raw contains a
// <load-configuration-results> element, which takes precedence over the
// plain <rpc-reply><ok/> shape when both could in principle apply.
func hasResultsEnvelope(raw []byte) bool {
	d := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := d.Token()
		if err != nil {
			return false
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "load-configuration-results" {
			return true
		}
	}
}

// Exec sends the load-configuration operation and interprets whichever
// reply shape the device used: the Juniper load-configuration-results
// envelope if present, otherwise a plain <rpc-reply><ok/>. The returned
// results carry the echoed action and any warnings even when the load
// succeeded. When the device used the load-configuration-results envelope
// they are also returned alongside a LoadException so failure diagnostics
// stay inspectable; errors in a plain rpc-reply return nil results.
func (rpc LoadConfiguration) Exec(ctx context.Context, session *netconf.Session) (*LoadConfigurationResults, error) {
	resp, err := session.Do(ctx, netconf.NewRequest(rpc))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Close()
	}()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read load-configuration reply: %w", err)
	}

	var envelope netconf.RPCReply
	if err := xml.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse rpc-reply: %w", err)
	}

	if hasResultsEnvelope(raw) {
		var reply loadConfigurationResultsReply
		if err := xml.Unmarshal(raw, &reply); err != nil {
			return nil, fmt.Errorf("failed to decode load-configuration-results: %w", err)
		}

		results := &LoadConfigurationResults{
			Action: reply.Results.Action,
			OK:     bool(reply.Results.OK),
			Errors: reply.Results.Errors,
		}
		if errs := results.Errors.Filter(netconf.SevError); len(errs) > 0 {
			return results, &LoadException{Errors: errs}
		}
		if !results.OK {
			return results, fmt.Errorf("load-configuration: operation failed, no <ok/> in results")
		}
		return results, nil
	}

	if errs := envelope.RPCErrors.Filter(netconf.SevError); len(errs) > 0 {
		return nil, &LoadException{Errors: errs}
	}

	var okResp OkReply
	if err := xml.Unmarshal(raw, &okResp); err != nil {
		return nil, fmt.Errorf("failed to decode rpc-reply: %w", err)
	}
	if !okResp.OK {
		return nil, fmt.Errorf("load-configuration: operation failed, <ok> not received")
	}
	// A plain reply carries no results element, so there is no echoed
	// action to report.
	return &LoadConfigurationResults{
		OK:     true,
		Errors: envelope.RPCErrors,
	}, nil
}
